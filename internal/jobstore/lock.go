package jobstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/job"
)

// acquirable reports whether a runner may claim j now. A processing job is only
// claimable again once its lease has lapsed.
func (s *Store) acquirable(j *job.Job, now time.Time) bool {
	switch j.Status {
	case job.StatusQueued:
		return j.StartedAt == nil
	case job.StatusProcessing:
		if s.leaseTTL <= 0 {
			return false
		}
		return j.LeaseExpiresAt == nil || j.LeaseExpiresAt.Before(now)
	default:
		return false
	}
}

func indexOf(jobs []*job.Job, id string) int {
	for i, j := range jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

// TryAcquire claims jobID for owner against the persisted list. It returns false
// without error when another runner already holds the job.
func (s *Store) TryAcquire(ctx context.Context, jobID, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		claimed  *job.Job
		held     *job.Job
		previous job.Status
	)
	err := s.kv.Update(ctx, s.key, func(cur []byte) ([]byte, error) {
		claimed, held = nil, nil

		jobs, _, err := decodeJobs(cur, s.maxJobs)
		if err != nil {
			return nil, err
		}
		if len(cur) == 0 {
			jobs = make([]*job.Job, len(s.jobs))
			for i, j := range s.jobs {
				jobs[i] = j.Clone()
			}
		}

		i := indexOf(jobs, jobID)
		if i < 0 {
			m := s.findLocked(jobID)
			if m < 0 {
				return nil, nil
			}
			jobs = append(jobs, s.jobs[m].Clone())
			i = len(jobs) - 1
		}

		now := s.now()
		j := jobs[i]
		if !s.acquirable(j, now) {
			previous = j.Status
			if j.Status == job.StatusProcessing {
				held = j
			}
			return nil, nil
		}

		// Memory may hold segments that have not reached the store yet.
		if m := s.findLocked(jobID); m >= 0 && len(s.jobs[m].Segments) >= len(j.Segments) {
			j.Segments = s.jobs[m].Segments
			j.TotalSegments = s.jobs[m].TotalSegments
		}

		previous = j.Status
		j.Status = job.StatusProcessing
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.UpdatedAt = now
		j.Attempts++
		j.LeaseOwner = owner
		if s.leaseTTL > 0 {
			expires := now.Add(s.leaseTTL)
			j.LeaseExpiresAt = &expires
		}
		claimed = j
		return encodeJobs(jobs, s.maxJobs)
	})
	if err != nil {
		slog.Error("job acquisition failed", "job_id", jobID, "error", err)
		return false, err
	}
	if claimed == nil {
		if held != nil {
			s.mirrorLocked(held)
		}
		slog.Info("job not acquired", "job_id", jobID, "status", previous)
		return false, nil
	}

	s.mirrorLocked(claimed)
	if previous == job.StatusProcessing {
		slog.Warn("took over job with expired lease", "job_id", jobID, "attempt", claimed.Attempts)
	} else {
		slog.Info("job acquired", "job_id", jobID, "owner", owner)
	}
	return true, nil
}

// mirrorLocked copies the claim fields of j into the in-memory list.
func (s *Store) mirrorLocked(j *job.Job) {
	i := s.findLocked(j.ID)
	if i < 0 {
		s.jobs = append(s.jobs, j.Clone())
		return
	}
	m := s.jobs[i]
	m.Status = j.Status
	m.StartedAt = j.StartedAt
	m.UpdatedAt = j.UpdatedAt
	m.Attempts = j.Attempts
	m.LeaseOwner = j.LeaseOwner
	m.LeaseExpiresAt = j.LeaseExpiresAt
	if len(j.Segments) > len(m.Segments) {
		m.Segments = j.Segments
		m.TotalSegments = j.TotalSegments
	}
}

// LeaseExpiry returns when the lease on a processing job lapses, as last seen by
// this store.
func (s *Store) LeaseExpiry(jobID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(jobID)
	if i < 0 {
		return time.Time{}, false
	}
	j := s.jobs[i]
	if j.Status != job.StatusProcessing || j.LeaseExpiresAt == nil {
		return time.Time{}, false
	}
	return *j.LeaseExpiresAt, true
}

// RenewLease extends owner's lease on jobID. It returns false once the job is no
// longer processing under owner.
func (s *Store) RenewLease(ctx context.Context, jobID, owner string) (bool, error) {
	if s.leaseTTL <= 0 {
		return true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var renewed *job.Job
	err := s.kv.Update(ctx, s.key, func(cur []byte) ([]byte, error) {
		renewed = nil
		jobs, _, err := decodeJobs(cur, s.maxJobs)
		if err != nil {
			return nil, err
		}
		i := indexOf(jobs, jobID)
		if i < 0 {
			return nil, common.ErrJobNotFound
		}
		j := jobs[i]
		if j.Status != job.StatusProcessing || j.LeaseOwner != owner {
			return nil, nil
		}
		now := s.now()
		expires := now.Add(s.leaseTTL)
		j.LeaseExpiresAt = &expires
		j.UpdatedAt = now
		renewed = j
		return encodeJobs(jobs, s.maxJobs)
	})
	if err != nil {
		return false, err
	}
	if renewed == nil {
		return false, nil
	}
	s.mirrorLocked(renewed)
	return true, nil
}
