// Package workers drives a job from its segments to a committed note.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/job"
	"github.com/fedutinova/meetnotes/internal/jobstore"
	"github.com/fedutinova/meetnotes/internal/memq"
)

// ErrLeaseLost cancels a run whose job was taken over by another runner.
var ErrLeaseLost = errors.New("job lease lost")

// leaseGrace is added to a foreign lease's expiry before the job is re-triggered.
const leaseGrace = 50 * time.Millisecond

type NoteRunner interface {
	Run(ctx context.Context, jobID string, segments []*job.Segment) (*job.Note, error)
}

type NoteAppender interface {
	Append(ctx context.Context, target string, note *job.Note) (string, error)
}

type DefaultSource interface {
	DefaultDocument(ctx context.Context) (id, title string, err error)
}

type Options struct {
	// Owner identifies this runner in job leases. Generated when empty.
	Owner    string
	LeaseTTL time.Duration
	// Defaults, when set, supplies titles for the stored default document.
	Defaults DefaultSource
}

type Orchestrator struct {
	store    *jobstore.Store
	driver   NoteRunner
	appender NoteAppender
	queue    memq.JobQueue
	defaults DefaultSource
	owner    string
	leaseTTL time.Duration

	mu      sync.Mutex
	retries map[string]*time.Timer
	closed  bool
}

func NewOrchestrator(store *jobstore.Store, driver NoteRunner, appender NoteAppender, queue memq.JobQueue, opts Options) *Orchestrator {
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}
	return &Orchestrator{
		store:    store,
		driver:   driver,
		appender: appender,
		queue:    queue,
		defaults: opts.Defaults,
		owner:    opts.Owner,
		leaseTTL: opts.LeaseTTL,
		retries:  make(map[string]*time.Timer),
	}
}

// Close cancels pending lease retries. Runs in flight are stopped through their context.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for id, t := range o.retries {
		t.Stop()
		delete(o.retries, id)
	}
}

type StartRequest struct {
	JobID          string
	Platform       string
	TargetDocument string
	TotalSegments  int
}

// StartJob registers a queued job. Starting an existing id returns it unchanged.
func (o *Orchestrator) StartJob(ctx context.Context, req StartRequest) (job.Info, error) {
	if req.TotalSegments <= 0 || req.TotalSegments > job.MaxSegments {
		return job.Info{}, fmt.Errorf("totalSegments must be between 1 and %d: %w", job.MaxSegments, common.ErrInvalidSegment)
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	j, _ := o.store.Start(ctx, jobstore.StartParams{
		ID:            req.JobID,
		Platform:      req.Platform,
		Target:        req.TargetDocument,
		TargetTitle:   o.targetTitle(ctx, req.TargetDocument),
		TotalSegments: req.TotalSegments,
	})
	return j.Info(), nil
}

func (o *Orchestrator) targetTitle(ctx context.Context, target string) string {
	if target == "" || o.defaults == nil {
		return ""
	}
	id, title, err := o.defaults.DefaultDocument(ctx)
	if err != nil || id != target {
		return ""
	}
	return title
}

type SegmentResult struct {
	JobID     string `json:"jobId"`
	Received  int    `json:"receivedSegments"`
	Total     int    `json:"totalSegments"`
	Triggered bool   `json:"triggered"`
}

// SubmitSegment stores one segment and triggers processing once every slot is filled.
func (o *Orchestrator) SubmitSegment(ctx context.Context, jobID string, index, total int, in job.SegmentInput) (SegmentResult, error) {
	payload, err := job.NewPayload(in)
	if err != nil {
		return SegmentResult{JobID: jobID, Total: total}, err
	}
	return o.submit(ctx, jobID, index, total, payload)
}

func (o *Orchestrator) submit(ctx context.Context, jobID string, index, total int, payload job.Payload) (SegmentResult, error) {
	res := SegmentResult{JobID: jobID, Total: total}
	received, err := o.store.SubmitSegment(ctx, jobID, index, total, payload)
	if err != nil {
		return res, err
	}
	res.Received = received

	if received == total {
		if err := o.queue.Enqueue(ctx, jobID); err != nil {
			slog.Error("failed to trigger job", "job_id", jobID, "error", err)
			return res, fmt.Errorf("failed to trigger job: %w", err)
		}
		res.Triggered = true
		slog.Info("all segments received", "job_id", jobID, "total", total)
	}
	return res, nil
}

type RecordingRequest struct {
	JobID          string
	Platform       string
	TargetDocument string
	Audio          job.SegmentInput
}

// SubmitRecording runs a whole recording as a single-segment job.
func (o *Orchestrator) SubmitRecording(ctx context.Context, req RecordingRequest) (SegmentResult, error) {
	payload, err := job.NewPayload(req.Audio)
	if err != nil {
		return SegmentResult{}, err
	}
	info, err := o.StartJob(ctx, StartRequest{
		JobID:          req.JobID,
		Platform:       req.Platform,
		TargetDocument: req.TargetDocument,
		TotalSegments:  1,
	})
	if err != nil {
		return SegmentResult{}, err
	}
	return o.submit(ctx, info.ID, 0, 1, payload)
}

func (o *Orchestrator) Jobs() []job.Info {
	return o.store.List()
}

func (o *Orchestrator) Job(id string) (job.Info, error) {
	j, ok := o.store.Get(id)
	if !ok {
		return job.Info{}, common.ErrJobNotFound
	}
	return j.Info(), nil
}

func (o *Orchestrator) ClearFinished(ctx context.Context) int {
	n := o.store.ClearFinished(ctx)
	slog.Info("cleared finished jobs", "count", n)
	return n
}

// Resume reloads persisted jobs and re-triggers every active one whose segments are
// all present. Acquisition decides which of them actually run.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	if err := o.store.Reload(ctx); err != nil {
		return 0, fmt.Errorf("failed to reload jobs: %w", err)
	}
	ids := o.store.Resumable()
	for _, id := range ids {
		if err := o.queue.Enqueue(ctx, id); err != nil {
			return 0, fmt.Errorf("failed to trigger job %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		slog.Info("resuming jobs", "count", len(ids))
	}
	return len(ids), nil
}

// Process is the queue handler: acquire, transcribe and summarize, append, finish.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	acquired, err := o.store.TryAcquire(ctx, jobID, o.owner)
	if err != nil {
		return fmt.Errorf("failed to acquire job: %w", err)
	}
	if !acquired {
		slog.Info("skipping job held elsewhere", "job_id", jobID, "reason", common.ErrLockNotAcquired)
		o.retryAfterLease(jobID)
		return nil
	}

	j, ok := o.store.Get(jobID)
	if !ok {
		return common.ErrJobNotFound
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := o.heartbeat(runCtx, jobID, cancel)

	err = o.run(runCtx, j)
	stop()

	if cause := context.Cause(runCtx); errors.Is(cause, ErrLeaseLost) {
		slog.Warn("abandoning job after losing lease", "job_id", jobID)
		return cause
	}
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		// Shutdown. The lease lapses and the next start resumes the job.
		slog.Warn("job interrupted by shutdown", "job_id", jobID)
		return ctx.Err()
	}

	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		slog.Error("job failed", "job_id", jobID, "error", err)
		if markErr := o.store.MarkFailed(finishCtx, jobID, err.Error()); markErr != nil {
			slog.Error("failed to mark job failed", "job_id", jobID, "error", markErr)
		}
		return err
	}
	if err := o.store.MarkCompleted(finishCtx, jobID); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	slog.Info("job completed", "job_id", jobID, "attempts", j.Attempts)
	return nil
}

// retryAfterLease re-triggers jobID once the lease that blocked it lapses. A runner
// that died without finishing leaves nobody else to trigger the job.
func (o *Orchestrator) retryAfterLease(jobID string) {
	expires, ok := o.store.LeaseExpiry(jobID)
	if !ok {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if _, pending := o.retries[jobID]; pending {
		return
	}

	wait := max(time.Until(expires), 0) + leaseGrace
	o.retries[jobID] = time.AfterFunc(wait, func() {
		o.mu.Lock()
		delete(o.retries, jobID)
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return
		}
		if err := o.queue.Enqueue(context.Background(), jobID); err != nil {
			slog.Warn("failed to re-trigger job after lease", "job_id", jobID, "error", err)
		}
	})
	slog.Info("job re-trigger scheduled", "job_id", jobID, "after", wait)
}

func (o *Orchestrator) run(ctx context.Context, j *job.Job) error {
	note, err := o.driver.Run(ctx, j.ID, j.Segments)
	if err != nil {
		return err
	}
	target := ""
	if j.Target != nil {
		target = *j.Target
	}
	pageID, err := o.appender.Append(ctx, target, note)
	if err != nil {
		return err
	}
	slog.Info("note appended", "job_id", j.ID, "page_id", pageID)
	return nil
}

// heartbeat renews the lease every third of its TTL until stop is called.
func (o *Orchestrator) heartbeat(ctx context.Context, jobID string, cancel context.CancelCauseFunc) (stop func()) {
	if o.leaseTTL <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(o.leaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := o.store.RenewLease(ctx, jobID, o.owner)
				if err != nil {
					slog.Warn("failed to renew job lease", "job_id", jobID, "error", err)
					continue
				}
				if !ok {
					cancel(ErrLeaseLost)
					return
				}
			}
		}
	}()
	return func() {
		select {
		case <-done:
		default:
			close(done)
		}
		<-exited
	}
}
