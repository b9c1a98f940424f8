// Package queue carries job triggers between instances over Redis Streams.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fedutinova/meetnotes/internal/memq"
)

const maxDeliveries = 3

// RedisQueue implements memq.JobQueue using Redis Streams. A trigger left pending by
// a dead consumer is claimed by another instance once it has been idle long enough.
type RedisQueue struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	maxWait       time.Duration
	claimInterval time.Duration
	claimTimeout  time.Duration

	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

type RedisQueueConfig struct {
	Stream string
	Group  string
	// Consumer prefixes this instance's consumer names so groups stay distinct per host.
	Consumer      string
	MaxJobTime    time.Duration
	ClaimInterval time.Duration
	ClaimTimeout  time.Duration
}

func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:        "meetnotes:jobs",
		Group:         "workers",
		Consumer:      "worker",
		ClaimInterval: 30 * time.Second,
		ClaimTimeout:  5 * time.Minute,
	}
}

func NewRedisQueue(ctx context.Context, client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	def := DefaultConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Consumer == "" {
		cfg.Consumer = def.Consumer
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = def.ClaimInterval
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}

	q := &RedisQueue{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		consumer:      cfg.Consumer,
		maxWait:       cfg.MaxJobTime,
		claimInterval: cfg.ClaimInterval,
		claimTimeout:  cfg.ClaimTimeout,
		closing:       make(chan struct{}),
	}

	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("Redis queue initialized",
		"stream", q.stream,
		"group", q.group,
		"max_job_time", q.maxWait,
		"claim_timeout", q.claimTimeout)

	return q, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"job_id":      jobID,
			"enqueued_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add trigger to stream: %w", err)
	}
	slog.Debug("trigger enqueued", "job_id", jobID, "stream", q.stream)
	return nil
}

// Len returns the number of delivered but unacknowledged triggers.
func (q *RedisQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return 0
	}
	for _, g := range info {
		if g.Name == q.group {
			return int(g.Pending)
		}
	}
	return 0
}

func (q *RedisQueue) StartConsumers(ctx context.Context, n int, handler memq.Handler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.consume(ctx, i+1, handler)
	}

	q.wg.Add(1)
	go q.claimer(ctx, handler)

	slog.Info("Started queue consumers", "count", n)
}

func (q *RedisQueue) consume(ctx context.Context, workerID int, handler memq.Handler) {
	defer q.wg.Done()
	consumerName := fmt.Sprintf("%s-%d", q.consumer, workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Consumer shutting down", "worker", workerID)
			return
		case <-q.closing:
			slog.Info("Consumer received close signal", "worker", workerID)
			return
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumerName,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("Failed to read from stream", "error", err, "worker", workerID)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.processMessage(ctx, msg, handler, workerID)
			}
		}
	}
}

func (q *RedisQueue) claimer(ctx context.Context, handler memq.Handler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
			q.claimStuck(ctx, handler)
		}
	}
}

// claimStuck takes over triggers whose consumer stopped acknowledging them.
func (q *RedisQueue) claimStuck(ctx context.Context, handler memq.Handler) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Idle:   q.claimTimeout,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("Failed to get pending entries", "error", err)
		}
		return
	}

	for _, p := range pending {
		msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer + "-claimer",
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			slog.Error("Failed to claim stuck trigger", "message_id", p.ID, "error", err)
			continue
		}

		for _, msg := range msgs {
			slog.Warn("Reclaimed stuck trigger",
				"message_id", msg.ID,
				"idle_time", p.Idle,
				"retry_count", p.RetryCount)

			if p.RetryCount > maxDeliveries {
				q.moveToDeadLetter(ctx, msg, fmt.Sprintf("exceeded max deliveries: %d", p.RetryCount))
				continue
			}
			q.processMessage(ctx, msg, handler, 0)
		}
	}
}

// processMessage runs one trigger. Handler failures are recorded on the job itself,
// so the trigger is acknowledged either way, except when shutdown interrupted the run:
// that entry stays pending for the claimer to re-deliver.
func (q *RedisQueue) processMessage(ctx context.Context, msg redis.XMessage, handler memq.Handler, workerID int) {
	jobID, ok := msg.Values["job_id"].(string)
	if !ok || jobID == "" {
		slog.Error("Invalid message format", "message_id", msg.ID)
		q.ackMessage(ctx, msg.ID)
		return
	}

	start := time.Now()
	slog.Info("Processing trigger", "job_id", jobID, "worker", workerID)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if q.maxWait > 0 {
		runCtx, cancel = context.WithTimeout(ctx, q.maxWait)
	}
	err := handler(runCtx, jobID)
	cancel()

	if err != nil && ctx.Err() != nil {
		slog.Warn("Trigger interrupted by shutdown, leaving it pending", "job_id", jobID, "message_id", msg.ID)
		return
	}
	if err != nil {
		slog.Error("Job failed", "job_id", jobID, "error", err, "worker", workerID)
	} else {
		slog.Info("Job completed", "job_id", jobID, "worker", workerID, "duration", time.Since(start))
	}
	q.ackMessage(ctx, msg.ID)
}

func (q *RedisQueue) moveToDeadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadLetterStream(),
		Values: map[string]any{
			"original_id": msg.ID,
			"job_id":      msg.Values["job_id"],
			"reason":      reason,
			"moved_at":    time.Now().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		slog.Error("Failed to move to dead letter", "message_id", msg.ID, "error", err)
	} else {
		slog.Warn("Moved trigger to dead letter queue", "message_id", msg.ID, "reason", reason)
	}
	q.ackMessage(ctx, msg.ID)
}

func (q *RedisQueue) ackMessage(ctx context.Context, messageID string) {
	// Acknowledge even when ctx is already cancelled by shutdown.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := q.client.XAck(ackCtx, q.stream, q.group, messageID).Err(); err != nil {
		slog.Error("Failed to ack message", "message_id", messageID, "error", err)
	}
}

func (q *RedisQueue) deadLetterStream() string {
	return q.stream + ":deadletter"
}

// DeadLetterCount reports how many triggers were given up on.
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.deadLetterStream()).Result()
}

func (q *RedisQueue) Close() error {
	q.once.Do(func() { close(q.closing) })
	q.wg.Wait()
	slog.Info("Queue closed gracefully")
	return nil
}

// isGroupExistsError checks for "BUSYGROUP Consumer Group name already exists".
func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

var _ memq.JobQueue = (*RedisQueue)(nil)
