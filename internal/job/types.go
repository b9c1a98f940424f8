package job

import (
	"time"
)

// MaxSegments bounds the declared segment count of a job.
const MaxSegments = 10000

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether the job still counts as in flight for clearing and resuming.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusProcessing
}

// CanTransition enforces the forward-only state machine.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusQueued:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

type Job struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	Platform       string     `json:"platform"`
	Target         *string    `json:"selectedPageId"`
	TargetTitle    *string    `json:"selectedPageTitle"`
	Segments       []*Segment `json:"segments"`
	TotalSegments  int        `json:"totalSegments"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	LeaseOwner     string     `json:"leaseOwner,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	Attempts       int        `json:"attempts,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	Error          *string    `json:"error"`
}

// Received counts populated segment slots.
func (j *Job) Received() int {
	n := 0
	for _, s := range j.Segments {
		if s != nil {
			n++
		}
	}
	return n
}

// Complete reports whether every declared segment has arrived.
func (j *Job) Complete() bool {
	return j.TotalSegments > 0 && j.Received() == j.TotalSegments
}

// Clone copies the job so callers can read it without holding the store lock.
// Segment payloads are immutable and shared.
func (j *Job) Clone() *Job {
	c := *j
	if j.Segments != nil {
		c.Segments = make([]*Segment, len(j.Segments))
		copy(c.Segments, j.Segments)
	}
	return &c
}

// StripAudio drops every segment payload once the job no longer needs them.
func (j *Job) StripAudio() {
	if j.Segments != nil {
		j.Segments = []*Segment{}
	}
}

// Info is the public view of a job, without audio payloads.
type Info struct {
	ID               string     `json:"id"`
	Status           Status     `json:"status"`
	Platform         string     `json:"platform"`
	Target           *string    `json:"selectedPageId"`
	TargetTitle      *string    `json:"selectedPageTitle"`
	TotalSegments    int        `json:"totalSegments"`
	ReceivedSegments int        `json:"receivedSegments"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	LeaseExpiresAt   *time.Time `json:"leaseExpiresAt,omitempty"`
	Attempts         int        `json:"attempts,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Error            *string    `json:"error"`
}

func (j *Job) Info() Info {
	return Info{
		ID:               j.ID,
		Status:           j.Status,
		Platform:         j.Platform,
		Target:           j.Target,
		TargetTitle:      j.TargetTitle,
		TotalSegments:    j.TotalSegments,
		ReceivedSegments: j.Received(),
		StartedAt:        j.StartedAt,
		LeaseExpiresAt:   j.LeaseExpiresAt,
		Attempts:         j.Attempts,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		Error:            j.Error,
	}
}
