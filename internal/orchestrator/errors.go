package orchestrator

import "errors"

var (
	// ErrNoProgress is returned when no job is running and no suspicious cloud
	// could recover, so nothing can free a cloud.
	ErrNoProgress = errors.New("no running jobs and no recoverable clouds")

	// ErrAcquireTimeout is returned when no cloud became available in time.
	ErrAcquireTimeout = errors.New("timed out waiting for an available cloud")

	// ErrAllCondemned is returned when every cloud has been condemned.
	ErrAllCondemned = errors.New("all clouds condemned")

	// ErrTerminated is returned when the run was stopped by an operator signal.
	ErrTerminated = errors.New("run terminated")
)
