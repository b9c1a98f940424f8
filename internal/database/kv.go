package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const createKVTable = `
	CREATE TABLE IF NOT EXISTS kv_store (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// KV stores values in a single Postgres table.
type KV struct {
	db *DB
}

// NewKV creates the backing table if needed.
func NewKV(ctx context.Context, db *DB) (*KV, error) {
	if _, err := db.Pool().Exec(ctx, createKVTable); err != nil {
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return &KV{db: db}, nil
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	return getValue(ctx, s.db.Pool(), key, false)
}

func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	return setValue(ctx, s.db.Pool(), key, value)
}

// Update holds a row lock for the duration of fn.
func (s *KV) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	return s.db.WithTx(ctx, lockedTx, func(tx pgx.Tx) error {
		// Make sure there is a row to lock.
		if _, err := tx.Exec(ctx,
			`INSERT INTO kv_store (key, value) VALUES ($1, ''::bytea) ON CONFLICT (key) DO NOTHING`, key); err != nil {
			return fmt.Errorf("failed to seed %s: %w", key, err)
		}
		current, err := getValue(ctx, tx, key, true)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return setValue(ctx, tx, key, next)
	})
}

func (s *KV) Ping(ctx context.Context) error {
	return s.db.Pool().Ping(ctx)
}

func (s *KV) Close() error {
	s.db.Close()
	return nil
}

func getValue(ctx context.Context, q Querier, key string, forUpdate bool) ([]byte, error) {
	query := `SELECT value FROM kv_store WHERE key = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var value []byte
	err := q.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if len(value) == 0 {
		return nil, nil
	}
	return value, nil
}

func setValue(ctx context.Context, q Querier, key string, value []byte) error {
	_, err := q.Exec(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
