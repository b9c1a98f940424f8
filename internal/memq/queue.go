// Package memq dispatches job triggers to a pool of in-process workers.
package memq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Handler runs the job a trigger names.
type Handler func(ctx context.Context, jobID string) error

type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	StartConsumers(ctx context.Context, n int, handler Handler)
	Len() int
	Close() error
}

var ErrQueueClosed = errors.New("queue closed")

type memQueue struct {
	buf     chan string
	maxWait time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	wg      sync.WaitGroup
	closing chan struct{}
}

// NewMemoryQueue returns a channel-backed queue. maxJobDuration <= 0 means handlers
// run without a deadline.
func NewMemoryQueue(buffer int, maxJobDuration time.Duration) JobQueue {
	return &memQueue{
		buf:     make(chan string, buffer),
		maxWait: maxJobDuration,
		pending: make(map[string]struct{}, buffer),
		closing: make(chan struct{}),
	}
}

// Enqueue adds a trigger for jobID. A trigger already waiting for the same job
// absorbs the new one.
func (q *memQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if _, ok := q.pending[jobID]; ok {
		q.mu.Unlock()
		slog.Debug("trigger already pending", "job_id", jobID)
		return nil
	}
	q.pending[jobID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.buf <- jobID:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, jobID)
		q.mu.Unlock()
		return ctx.Err()
	}
}

func (q *memQueue) StartConsumers(ctx context.Context, n int, handler Handler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.closing:
					return
				case id := <-q.buf:
					q.mu.Lock()
					delete(q.pending, id)
					q.mu.Unlock()
					q.run(ctx, workerID, id, handler)
				}
			}
		}(i + 1)
	}
}

func (q *memQueue) run(ctx context.Context, workerID int, jobID string, handler Handler) {
	start := time.Now()
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if q.maxWait > 0 {
		runCtx, cancel = context.WithTimeout(ctx, q.maxWait)
	}
	err := handler(runCtx, jobID)
	cancel()

	if err != nil {
		slog.Error("job failed", "job_id", jobID, "err", err, "worker", workerID)
		return
	}
	slog.Info("job done", "job_id", jobID, "worker", workerID, "duration", time.Since(start))
}

func (q *memQueue) Len() int {
	return len(q.buf)
}

// Close stops the workers and waits for running handlers to return.
func (q *memQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.closing)
	q.wg.Wait()
	return nil
}
