package cloud

import (
	"context"
	"strings"
	"sync"
)

// External is a cloud that was started outside this run. Its lifecycle
// operations are no-ops; only its endpoint is used.
type External struct {
	index  int
	scheme string
	addr   string

	mu    sync.Mutex
	state State
}

var _ Cloud = (*External)(nil)

// NewExternal wraps an existing cloud reachable at ip:port or scheme://ip:port.
func NewExternal(index int, endpoint string) *External {
	scheme := "http"
	if i := strings.Index(endpoint, "://"); i >= 0 {
		scheme, endpoint = endpoint[:i], endpoint[i+3:]
	}
	return &External{
		index:  index,
		scheme: scheme,
		addr:   strings.TrimSuffix(endpoint, "/"),
		state:  StateReady,
	}
}

// Index is the position of the cloud in the run's cloud list.
func (e *External) Index() int { return e.index }

// Name identifies the cloud in logs by its address.
func (e *External) Name() string { return "external_" + e.addr }

// Endpoint is the ip:port handed to test drivers.
func (e *External) Endpoint() string { return e.addr }

// BaseURL is the endpoint with its scheme, used for health checks.
func (e *External) BaseURL() string { return e.scheme + "://" + e.addr }

// Start is a no-op; the cloud is already running.
func (e *External) Start(context.Context) error { return nil }

// AwaitReady is a no-op.
func (e *External) AwaitReady(context.Context) error { return nil }

// State is ready until Stop or Terminate is called.
func (e *External) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stop only records the state; the external cloud keeps running.
func (e *External) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateTerminated {
		e.state = StateStopped
	}
	return nil
}

// Terminate only records the state.
func (e *External) Terminate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateTerminated
	return nil
}
