// Package cloud composes worker nodes into addressable clouds and checks their
// health over the worker REST API.
package cloud

import "context"

// State is the lifecycle state of a cloud. Whether a ready cloud is in use is
// tracked by the scheduler, not here.
type State string

// Cloud lifecycle states.
const (
	StateCreated    State = "created"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateStopped    State = "stopped"
	StateTerminated State = "terminated"
)

// Cloud is one logical worker unit addressed through a single endpoint.
type Cloud interface {
	// Index is the cloud's position in the run, stable for its lifetime.
	Index() int

	// Name is the unique cloud name shared by its members.
	Name() string

	// Endpoint is the representative ip:port, empty until ready.
	Endpoint() string

	// BaseURL is scheme://ip:port of the representative member.
	BaseURL() string

	// Start launches the cloud's members without waiting for them.
	Start(ctx context.Context) error

	// AwaitReady blocks until every member is ready and the cloud has formed.
	AwaitReady(ctx context.Context) error

	// Stop shuts every member down. It is idempotent.
	Stop() error

	// Terminate marks the cloud as killed by operator signal and stops it.
	Terminate() error

	// State reports the lifecycle state.
	State() State
}
