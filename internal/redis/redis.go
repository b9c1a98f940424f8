package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic WATCH retries under contention.
const maxTxRetries = 16

// Service is a Redis client that also serves as a storage backend.
type Service struct {
	client *redis.Client
	prefix string
}

func New(redisURL, keyPrefix string) (*Service, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: client, prefix: keyPrefix}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, keyPrefix string) *Service {
	return &Service{client: client, prefix: keyPrefix}
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Service) Client() *redis.Client {
	return s.client
}

func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *Service) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Update is a compare-and-swap: the write only lands if nobody touched the key
// between the read and the EXEC.
func (s *Service) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	k := s.key(key)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, k).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, next, 0)
				return nil
			})
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("failed to update %s: too much contention after %d attempts", key, maxTxRetries)
}

func (s *Service) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
