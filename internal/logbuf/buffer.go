// Package logbuf keeps a bounded, persisted ring of recent log entries for
// diagnostics.
package logbuf

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/fedutinova/meetnotes/internal/storage"
)

const (
	Key        = "logs"
	DefaultMax = 2000
)

type Entry struct {
	T     int64          `json:"t"`
	Level string         `json:"level"`
	Msg   string         `json:"msg"`
	Meta  map[string]any `json:"meta,omitempty"`
}

type Buffer struct {
	kv  storage.KV
	max int
	now func() time.Time

	mu      sync.Mutex
	entries []Entry
	dirty   bool
}

// New returns an empty buffer. kv may be nil for a memory-only buffer.
func New(kv storage.KV, limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultMax
	}
	return &Buffer{kv: kv, max: limit, now: time.Now}
}

// Load restores persisted entries, keeping the newest max. Storage errors leave the
// buffer empty.
func (b *Buffer) Load(ctx context.Context) {
	if b.kv == nil {
		return
	}
	data, err := b.kv.Get(ctx, Key)
	if err != nil || len(data) == 0 {
		return
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	if len(entries) > b.max {
		entries = entries[len(entries)-b.max:]
	}
	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
}

// Add appends an entry, dropping the oldest past the bound.
func (b *Buffer) Add(level, msg string, meta map[string]any) {
	e := Entry{T: b.now().UnixMilli(), Level: strings.ToLower(level), Msg: msg, Meta: meta}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
	}
	b.dirty = true
}

// Entries returns a copy, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Buffer) Clear(ctx context.Context) {
	b.mu.Lock()
	b.entries = nil
	b.dirty = true
	b.mu.Unlock()
	b.Flush(ctx)
}

// Flush persists the buffer if it changed. Failures are ignored.
func (b *Buffer) Flush(ctx context.Context) {
	if b.kv == nil {
		return
	}
	b.mu.Lock()
	if !b.dirty {
		b.mu.Unlock()
		return
	}
	snapshot := append([]Entry{}, b.entries...)
	b.dirty = false
	b.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := b.kv.Set(ctx, Key, data); err != nil {
		b.mu.Lock()
		b.dirty = true
		b.mu.Unlock()
	}
}

// Run flushes every interval until ctx ends, then flushes once more.
func (b *Buffer) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			b.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}
