package storage

import (
	"context"
	"fmt"

	appconfig "github.com/fedutinova/meetnotes/internal/config"
	"github.com/fedutinova/meetnotes/internal/database"
	"github.com/fedutinova/meetnotes/internal/redis"
)

func NewStorage(ctx context.Context, cfg appconfig.Config) (KV, error) {
	switch cfg.StorageMode {
	case "memory":
		return NewMemoryStorage(), nil
	case "redis":
		return redis.New(cfg.RedisURL, "meetnotes")
	case "postgres", "postgresql":
		db, err := database.NewDB(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: cfg.DatabaseMaxConns})
		if err != nil {
			return nil, err
		}
		kv, err := database.NewKV(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return kv, nil
	case "s3", "aws", "localstack":
		return NewS3Storage(ctx, cfg)
	case "local", "filesystem", "":
		return NewLocalStorage(cfg.LocalStorageDir)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
}

func GetStorageType(cfg appconfig.Config) string {
	switch cfg.StorageMode {
	case "memory":
		return "In-Memory"
	case "redis":
		return "Redis"
	case "postgres", "postgresql":
		return "PostgreSQL"
	case "s3", "aws", "localstack":
		if cfg.S3Endpoint != "" {
			return "S3-compatible (" + cfg.S3Endpoint + ")"
		}
		return "AWS S3"
	default:
		return "Local Filesystem"
	}
}
