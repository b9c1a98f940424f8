package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/fedutinova/meetnotes/internal/config"
)

func backends(t *testing.T) map[string]KV {
	local, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return map[string]KV{
		"memory": NewMemoryStorage(),
		"local":  local,
	}
}

func TestKV_Contract(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, err := kv.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, kv.Set(ctx, "jobs", []byte(`[]`)))
			v, err = kv.Get(ctx, "jobs")
			require.NoError(t, err)
			assert.Equal(t, `[]`, string(v))

			err = kv.Update(ctx, "jobs", func(current []byte) ([]byte, error) {
				assert.Equal(t, `[]`, string(current))
				return []byte(`[1]`), nil
			})
			require.NoError(t, err)
			v, _ = kv.Get(ctx, "jobs")
			assert.Equal(t, `[1]`, string(v))

			// nil leaves the value alone
			require.NoError(t, kv.Update(ctx, "jobs", func([]byte) ([]byte, error) { return nil, nil }))
			v, _ = kv.Get(ctx, "jobs")
			assert.Equal(t, `[1]`, string(v))

			boom := errors.New("boom")
			err = kv.Update(ctx, "jobs", func([]byte) ([]byte, error) { return []byte(`x`), boom })
			assert.ErrorIs(t, err, boom)
			v, _ = kv.Get(ctx, "jobs")
			assert.Equal(t, `[1]`, string(v))

			err = kv.Update(ctx, "fresh", func(current []byte) ([]byte, error) {
				assert.Nil(t, current)
				return []byte(`{}`), nil
			})
			require.NoError(t, err)

			assert.NoError(t, kv.Ping(ctx))
		})
	}
}

func TestLocalStorage_SanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set(context.Background(), "../escape", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "__escape.json", entries[0].Name())
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestMemoryStorage_CopiesValues(t *testing.T) {
	s := NewMemoryStorage()
	buf := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", buf))
	buf[0] = 'z'

	v, _ := s.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(v))
}

func TestNewStorage_UnknownMode(t *testing.T) {
	_, err := NewStorage(context.Background(), appconfig.Config{StorageMode: "floppy"})
	assert.Error(t, err)
}

func TestGetStorageType(t *testing.T) {
	assert.Equal(t, "In-Memory", GetStorageType(appconfig.Config{StorageMode: "memory"}))
	assert.Equal(t, "Local Filesystem", GetStorageType(appconfig.Config{}))
	assert.Equal(t, "S3-compatible (http://localhost:4566)",
		GetStorageType(appconfig.Config{StorageMode: "localstack", S3Endpoint: "http://localhost:4566"}))
}
