package storage

import (
	"context"
)

// KV is the durable key-value layer behind the job store and the log buffer.
// Get returns (nil, nil) for a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Update reads the current value and writes whatever fn returns. A nil result
	// leaves the key untouched. Backends make this as atomic as they can.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	Ping(ctx context.Context) error
	Close() error
}
