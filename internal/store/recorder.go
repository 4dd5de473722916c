package store

import (
	"context"
	"time"

	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// Recorder writes orchestrator progress into a Store.
type Recorder struct {
	Store Store
}

// RunStarted creates the run record.
func (r Recorder) RunStarted(ctx context.Context, runID string, total int) error {
	return r.Store.CreateRun(ctx, runID, total, time.Now())
}

// JobFinished appends a result.
func (r Recorder) JobFinished(ctx context.Context, runID string, res model.Result) error {
	return r.Store.InsertResult(ctx, runID, res)
}

// RunFinished stores the final tally and the error that ended the run.
func (r Recorder) RunFinished(ctx context.Context, runID string, s model.Summary, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return r.Store.FinishRun(ctx, runID, s, msg, time.Now())
}
