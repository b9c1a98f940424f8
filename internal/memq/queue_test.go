package memq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStartConsumers_RunsHandler(t *testing.T) {
	q := NewMemoryQueue(10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, jobID string) error {
		if _, ok := ctx.Deadline(); ok {
			t.Errorf("expected no deadline when max duration is zero")
		}
		done <- jobID
		return nil
	})

	if err := q.Enqueue(context.Background(), "job-1"); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case id := <-done:
		if id != "job-1" {
			t.Fatalf("expected job-1, got %s", id)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for job handler")
	}
}

func TestStartConsumers_TimeoutCancelsHandler(t *testing.T) {
	q := NewMemoryQueue(10, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, jobID string) error {
		<-ctx.Done()
		done <- ctx.Err()
		return errors.New("handler timed out")
	})

	if err := q.Enqueue(context.Background(), "slow"); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for job handler")
	}
}

func TestEnqueue_CoalescesPendingTriggers(t *testing.T) {
	q := NewMemoryQueue(10, 0)

	for range 3 {
		if err := q.Enqueue(context.Background(), "dup"); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}
	if err := q.Enqueue(context.Background(), "other"); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 pending triggers, got %d", q.Len())
	}
}

func TestEnqueue_AfterRunAcceptsSameJob(t *testing.T) {
	q := NewMemoryQueue(10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		runs int
	)
	done := make(chan struct{}, 2)
	q.StartConsumers(ctx, 1, func(ctx context.Context, jobID string) error {
		mu.Lock()
		runs++
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	for range 2 {
		if err := q.Enqueue(context.Background(), "again"); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for job handler")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Fatalf("expected 2 runs, got %d", runs)
	}
}

func TestClose_RejectsNewTriggers(t *testing.T) {
	q := NewMemoryQueue(1, 0)
	q.StartConsumers(context.Background(), 2, func(ctx context.Context, jobID string) error { return nil })

	if err := q.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := q.Enqueue(context.Background(), "late"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
