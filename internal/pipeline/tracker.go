// Package pipeline runs the per-message analysis flow: route the current
// bucket, analyze, parse, merge, advance the watermark. One job per
// (session, analyzer key) at a time.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a background analysis job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrAdmissionConflict is returned when a job for the same session and
// analyzer key is already queued or running.
var ErrAdmissionConflict = errors.New("analysis already in flight for this session and analyzer")

// JobResult summarizes what a completed job did.
type JobResult struct {
	Analyzer      string   `json:"analyzer,omitempty"`
	Parser        string   `json:"parser"`
	FieldsWritten int      `json:"fields_written"`
	FieldsSkipped int      `json:"fields_skipped"`
	SkippedFields []string `json:"skipped_fields,omitempty"`
}

// Job represents one background analysis run.
type Job struct {
	ID          string
	SessionID   string
	AnalyzerKey string
	Bucket      string
	Status      JobStatus
	Result      *JobResult
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu sync.RWMutex
}

// JobStore persists job state transitions. A nil store runs in-memory only.
type JobStore interface {
	CreateJobRecord(ctx context.Context, job Job) error
	MarkJobRunning(ctx context.Context, jobID string) error
	MarkJobCompleted(ctx context.Context, jobID string, result *JobResult) error
	MarkJobFailed(ctx context.Context, jobID string, errMsg string) error
}

// Tracker admits and tracks analysis jobs with single-flight semantics per
// (session, analyzer key).
type Tracker struct {
	jobs   map[string]*Job
	active map[string]string // admission key -> in-flight job ID
	mu     sync.Mutex
	store  JobStore
}

// NewTracker creates a job tracker. store may be nil.
func NewTracker(store JobStore) *Tracker {
	return &Tracker{
		jobs:   make(map[string]*Job),
		active: make(map[string]string),
		store:  store,
	}
}

func admissionKey(sessionID, analyzerKey string) string {
	return sessionID + "/" + analyzerKey
}

// Admit creates a queued job, or returns ErrAdmissionConflict when one is
// already in flight for the same session and analyzer key.
func (t *Tracker) Admit(ctx context.Context, sessionID, analyzerKey, bucketID string) (*Job, error) {
	key := admissionKey(sessionID, analyzerKey)

	t.mu.Lock()
	if inflight, busy := t.active[key]; busy {
		t.mu.Unlock()
		slog.Debug("job admission refused", "session", sessionID, "analyzer", analyzerKey, "in_flight", inflight)
		return nil, ErrAdmissionConflict
	}

	job := &Job{
		ID:          uuid.New().String()[:8], // Short ID for convenience
		SessionID:   sessionID,
		AnalyzerKey: analyzerKey,
		Bucket:      bucketID,
		Status:      JobStatusQueued,
		StartedAt:   time.Now(),
	}
	t.jobs[job.ID] = job
	t.active[key] = job.ID
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.CreateJobRecord(ctx, job.Snapshot()); err != nil {
			t.release(job)
			return nil, err
		}
	}

	slog.Info("job admitted", "job_id", job.ID, "session", sessionID, "analyzer", analyzerKey, "bucket", bucketID)
	return job, nil
}

// release drops a job's admission slot and registry entry after a failed create.
func (t *Tracker) release(job *Job) {
	t.mu.Lock()
	delete(t.jobs, job.ID)
	delete(t.active, admissionKey(job.SessionID, job.AnalyzerKey))
	t.mu.Unlock()
}

// settle clears the admission slot once the job reaches a terminal state.
func (t *Tracker) settle(job *Job) {
	t.mu.Lock()
	key := admissionKey(job.SessionID, job.AnalyzerKey)
	if t.active[key] == job.ID {
		delete(t.active, key)
	}
	t.mu.Unlock()
}

// SetRunning marks a job as running.
func (t *Tracker) SetRunning(ctx context.Context, job *Job) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()

	if t.store != nil {
		if err := t.store.MarkJobRunning(ctx, job.ID); err != nil {
			slog.Warn("failed to persist job running", "job_id", job.ID, "error", err)
		}
	}
}

// Complete marks a job as completed with its merge summary and frees the
// admission slot.
func (t *Tracker) Complete(ctx context.Context, job *Job, result *JobResult) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = result
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	t.settle(job)

	if t.store != nil {
		if err := t.store.MarkJobCompleted(ctx, job.ID, result); err != nil {
			slog.Warn("failed to persist job completion", "job_id", job.ID, "error", err)
		}
	}

	slog.Info("job completed", "job_id", job.ID, "written", result.FieldsWritten, "skipped", result.FieldsSkipped)
}

// Fail marks a job as failed and frees the admission slot.
func (t *Tracker) Fail(ctx context.Context, job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	t.settle(job)

	if t.store != nil {
		if dbErr := t.store.MarkJobFailed(ctx, job.ID, err.Error()); dbErr != nil {
			slog.Warn("failed to persist job failure", "job_id", job.ID, "error", dbErr)
		}
	}

	slog.Error("job failed", "job_id", job.ID, "error", err)
}

// Get retrieves a job by ID.
func (t *Tracker) Get(id string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[id]
}

// List returns all jobs, most recent first.
func (t *Tracker) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	jobs := make([]*Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// ListForSession returns a session's jobs, most recent first.
func (t *Tracker) ListForSession(sessionID string) []*Job {
	all := t.List()
	jobs := all[:0:0]
	for _, job := range all {
		if job.SessionID == sessionID {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		SessionID:   j.SessionID,
		AnalyzerKey: j.AnalyzerKey,
		Bucket:      j.Bucket,
		Status:      j.Status,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
