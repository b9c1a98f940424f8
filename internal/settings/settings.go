// Package settings persists user choices that outlive a single job.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fedutinova/meetnotes/internal/storage"
)

const Key = "settings"

type Settings struct {
	DefaultDocumentID    string `json:"defaultDocumentId,omitempty"`
	DefaultDocumentTitle string `json:"defaultDocumentTitle,omitempty"`
}

type Store struct {
	kv storage.KV
}

func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) Get(ctx context.Context) (Settings, error) {
	var out Settings
	data, err := s.kv.Get(ctx, Key)
	if err != nil {
		return out, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, nil
}

// SetDefaultDocument records the document notes go to when a job names none.
// An empty id clears the default.
func (s *Store) SetDefaultDocument(ctx context.Context, id, title string) (Settings, error) {
	id = strings.TrimSpace(id)
	var out Settings
	err := s.kv.Update(ctx, Key, func(cur []byte) ([]byte, error) {
		out = Settings{}
		if len(cur) > 0 {
			if err := json.Unmarshal(cur, &out); err != nil {
				return nil, fmt.Errorf("failed to decode settings: %w", err)
			}
		}
		out.DefaultDocumentID = id
		out.DefaultDocumentTitle = title
		if id == "" {
			out.DefaultDocumentTitle = ""
		}
		return json.Marshal(out)
	})
	return out, err
}

// DefaultDocument implements the appender's fallback target lookup.
func (s *Store) DefaultDocument(ctx context.Context) (id, title string, err error) {
	st, err := s.Get(ctx)
	if err != nil {
		return "", "", err
	}
	return st.DefaultDocumentID, st.DefaultDocumentTitle, nil
}
