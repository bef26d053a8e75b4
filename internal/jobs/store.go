package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a background job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job tracks the progress of one backfill run
type Job struct {
	ID         uuid.UUID `json:"id"`
	VersionTag string    `json:"version_tag"`
	Status     Status    `json:"status"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`

	// Error holds the failure reason when Status is failed
	Error string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewJob creates a pending job for a model version
func NewJob(versionTag string) *Job {
	return &Job{
		ID:         uuid.New(),
		VersionTag: versionTag,
		Status:     StatusPending,
		StartedAt:  time.Now().UTC(),
	}
}

// Store persists job state so progress survives being polled from a process
// other than the one running the job
type Store interface {
	// Create stores a new job
	Create(ctx context.Context, job *Job) error

	// Update overwrites the stored job state
	Update(ctx context.Context, job *Job) error

	// Get retrieves a job by id, failing with ErrJobNotFound when absent
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
}
