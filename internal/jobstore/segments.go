package jobstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/job"
)

// SubmitSegment stores payload at index and returns the number of populated slots.
// The latest total wins; slots beyond it are discarded.
func (s *Store) SubmitSegment(ctx context.Context, jobID string, index, total int, payload job.Payload) (int, error) {
	if total <= 0 || total > job.MaxSegments || index < 0 || index >= total {
		return 0, fmt.Errorf("index %d of %d: %w", index, total, common.ErrInvalidSegment)
	}
	if payload == nil || payload.Len() == 0 {
		return 0, common.ErrEmptyPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(jobID)
	if i < 0 {
		// Another instance may have started the job after our last load.
		if err := s.reloadLocked(ctx); err != nil {
			slog.Warn("failed to reload jobs", "job_id", jobID, "error", err)
		}
		if i = s.findLocked(jobID); i < 0 {
			return 0, common.ErrJobNotFound
		}
	}

	j := s.jobs[i]
	if j.Status.Terminal() {
		return 0, fmt.Errorf("job %s is %s: %w", jobID, j.Status, common.ErrJobFinished)
	}

	segments := make([]*job.Segment, total)
	copy(segments, j.Segments)
	segments[index] = &job.Segment{Payload: payload}

	j.Segments = segments
	j.TotalSegments = total
	j.UpdatedAt = s.now()
	received := j.Received()
	s.persistLocked(ctx)

	slog.Debug("segment stored",
		"job_id", jobID,
		"index", index,
		"kind", payload.Kind(),
		"bytes", payload.Len(),
		"received", received,
		"total", total,
	)
	return received, nil
}
