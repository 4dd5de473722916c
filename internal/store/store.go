// Package store keeps a local history of runs and their job results.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// Run is one recorded orchestrator run.
type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Jobs       int           `json:"jobs"`
	Summary    model.Summary `json:"summary"`
	Successful bool          `json:"successful"`
	Error      string        `json:"error,omitempty"`
}

// Store defines the persistence operations for run history.
type Store interface {
	CreateRun(ctx context.Context, id string, jobs int, startedAt time.Time) error
	FinishRun(ctx context.Context, id string, s model.Summary, runErr string, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error)
	InsertResult(ctx context.Context, runID string, r model.Result) error
	ListResults(ctx context.Context, runID string) ([]model.Result, error)
	Close() error
}
