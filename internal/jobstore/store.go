// Package jobstore is the authoritative job registry: an in-memory list mirrored to a
// durable key-value store, the segment assembler, and the acquisition protocol.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/job"
	"github.com/fedutinova/meetnotes/internal/storage"
)

const (
	DefaultKey     = "jobs"
	DefaultMaxJobs = 50
)

type Options struct {
	Key      string
	MaxJobs  int
	LeaseTTL time.Duration
	Now      func() time.Time
}

type Store struct {
	kv       storage.KV
	key      string
	maxJobs  int
	leaseTTL time.Duration
	now      func() time.Time

	// mu serializes memory mutations together with their persistence so an older
	// snapshot can never land after a newer one from this process.
	mu   sync.Mutex
	jobs []*job.Job
}

func New(kv storage.KV, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = DefaultMaxJobs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		kv:       kv,
		key:      opts.Key,
		maxJobs:  opts.MaxJobs,
		leaseTTL: opts.LeaseTTL,
		now:      opts.Now,
	}
}

// storedJob inspects a persisted record for the legacy whole-audio schema.
type storedJob struct {
	Segments  json.RawMessage `json:"segments"`
	AudioData json.RawMessage `json:"audioData"`
}

func (r storedJob) legacy() bool {
	if len(r.AudioData) > 0 && string(r.AudioData) != "null" {
		return true
	}
	return len(r.Segments) == 0 || r.Segments[0] != '['
}

// decodeJobs parses a persisted snapshot, dropping legacy records and keeping at most
// limit of the newest.
func decodeJobs(data []byte, limit int) ([]*job.Job, int, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("failed to decode job list: %w", err)
	}
	if len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}

	jobs := make([]*job.Job, 0, len(raw))
	dropped := 0
	for _, rec := range raw {
		var head storedJob
		if err := json.Unmarshal(rec, &head); err != nil || head.legacy() {
			dropped++
			continue
		}
		var j job.Job
		if err := json.Unmarshal(rec, &j); err != nil {
			slog.Warn("dropping unreadable job record", "error", err)
			dropped++
			continue
		}
		jobs = append(jobs, &j)
	}
	return jobs, dropped, nil
}

// encodeJobs is the write policy: newest limit jobs, no audio on finished jobs.
func encodeJobs(jobs []*job.Job, limit int) ([]byte, error) {
	if len(jobs) > limit {
		jobs = jobs[len(jobs)-limit:]
	}
	out := make([]*job.Job, len(jobs))
	for i, j := range jobs {
		if j.Status.Terminal() && len(j.Segments) > 0 {
			j = j.Clone()
			j.StripAudio()
		}
		out[i] = j
	}
	return json.Marshal(out)
}

// Load returns every compatible job currently persisted.
func (s *Store) Load(ctx context.Context) ([]*job.Job, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	jobs, dropped, err := decodeJobs(data, s.maxJobs)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		slog.Info("clearing old jobs from storage", "count", dropped)
	}
	return jobs, nil
}

// Reload replaces the in-memory list with the persisted one.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

func (s *Store) reloadLocked(ctx context.Context) error {
	jobs, err := s.Load(ctx)
	if err != nil {
		return err
	}
	s.jobs = jobs
	return nil
}

// Save persists the in-memory list. Failures are reported but memory stays authoritative.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	data, err := encodeJobs(s.jobs, s.maxJobs)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrPersistenceFailed, err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		slog.Warn("failed to persist jobs", "error", err, "jobs", len(s.jobs), "bytes", len(data))
		return fmt.Errorf("%w: %w", common.ErrPersistenceFailed, err)
	}
	return nil
}

// persistLocked saves and swallows the error after logging; used by mutations that
// must not fail on storage trouble.
func (s *Store) persistLocked(ctx context.Context) {
	_ = s.saveLocked(ctx)
}

func (s *Store) findLocked(id string) int {
	for i, j := range s.jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

type StartParams struct {
	ID            string
	Platform      string
	Target        string
	TargetTitle   string
	TotalSegments int
}

// Start creates a queued placeholder. An existing id is left as is.
func (s *Store) Start(ctx context.Context, p StartParams) (*job.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.findLocked(p.ID); i >= 0 {
		return s.jobs[i].Clone(), false
	}

	now := s.now()
	j := &job.Job{
		ID:            p.ID,
		Status:        job.StatusQueued,
		Platform:      p.Platform,
		Segments:      []*job.Segment{},
		TotalSegments: max(p.TotalSegments, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if j.Platform == "" {
		j.Platform = "unknown"
	}
	if p.Target != "" {
		j.Target = &p.Target
	}
	if p.TargetTitle != "" {
		j.TargetTitle = &p.TargetTitle
	}

	s.jobs = append(s.jobs, j)
	if len(s.jobs) > s.maxJobs {
		evicted := s.jobs[:len(s.jobs)-s.maxJobs]
		for _, e := range evicted {
			slog.Info("evicting oldest job", "job_id", e.ID, "status", e.Status)
		}
		s.jobs = append([]*job.Job(nil), s.jobs[len(s.jobs)-s.maxJobs:]...)
	}
	s.persistLocked(ctx)

	slog.Info("segmented job started", "job_id", j.ID, "total_segments", j.TotalSegments, "platform", j.Platform)
	return j.Clone(), true
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (*job.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findLocked(id); i >= 0 {
		return s.jobs[i].Clone(), true
	}
	return nil, false
}

// List returns every tracked job without audio payloads, oldest first.
func (s *Store) List() []job.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.Info, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Info()
	}
	return out
}

// ClearFinished drops every job that is neither queued nor processing.
func (s *Store) ClearFinished(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.jobs[:0:0]
	for _, j := range s.jobs {
		if j.Status.Active() {
			kept = append(kept, j)
		}
	}
	removed := len(s.jobs) - len(kept)
	s.jobs = kept
	s.persistLocked(ctx)
	return removed
}

// Resumable lists active jobs whose segment set is complete.
func (s *Store) Resumable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, j := range s.jobs {
		if j.Status.Active() && j.Complete() {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

// MarkCompleted finishes a job successfully and releases its audio.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.finish(ctx, id, job.StatusCompleted, "")
}

// MarkFailed records reason on the job and releases its audio.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.finish(ctx, id, job.StatusError, reason)
}

func (s *Store) finish(ctx context.Context, id string, to job.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(id)
	if i < 0 {
		return common.ErrJobNotFound
	}
	j := s.jobs[i]
	if !j.Status.CanTransition(to) {
		return fmt.Errorf("invalid transition %s -> %s: %w", j.Status, to, common.ErrConflict)
	}
	j.Status = to
	if reason != "" {
		j.Error = &reason
	}
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = s.now()
	j.StripAudio()
	s.persistLocked(ctx)
	return nil
}
