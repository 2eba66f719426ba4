// Package store keeps the job history: one row per extraction job plus an
// append-only log of its state transitions.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sells-group/data-mapper/internal/model"
)

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	State  model.JobState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// JobEvent is one recorded state transition.
type JobEvent struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	State     model.JobState `json:"state"`
	Cursor    int            `json:"cursor"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store defines the persistence interface for job history.
type Store interface {
	// Jobs
	RecordStart(ctx context.Context, job *model.Job) error
	RecordState(ctx context.Context, id string, state model.JobState, cursor int, errMsg string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	ListEvents(ctx context.Context, jobID string) ([]JobEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open picks the backend from the URL: postgres:// or postgresql:// use
// Postgres, anything else is a SQLite file path or DSN.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgres(ctx, databaseURL)
	}
	return NewSQLite(databaseURL)
}
