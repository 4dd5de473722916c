package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/h2oai/h2o-3-sub001/internal/proc"
)

var (
	// ErrExited is returned when the worker exits before printing a marker.
	ErrExited = errors.New("worker exited before becoming ready")

	// ErrReadyTimeout is returned when a marker does not appear in time.
	ErrReadyTimeout = errors.New("timed out waiting for worker marker")

	// ErrAlreadyStarted is returned when Start is called twice or after Stop.
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrNotStarted is returned when waiting on a worker that was never started.
	ErrNotStarted = errors.New("worker not started")
)

// errNotYet marks a scrape attempt that should be retried.
var errNotYet = errors.New("marker not found yet")

// Node supervises one worker process identified by (group index, node index).
type Node struct {
	cfg       Config
	group     int
	index     int
	count     int
	cloudName string
	flatfile  string
	logPath   string
	logger    *logrus.Entry

	mu         sync.Mutex
	proc       *proc.Process
	startedAt  time.Time
	addr       Address
	ready      bool
	stopped    bool
	terminated bool
}

// New creates a node that has not been started. count is the size of its group.
func New(cfg Config, cloudName string, group, index, count int, flatfile string, logger *logrus.Entry) *Node {
	cfg = cfg.withDefaults()
	return &Node{
		cfg:       cfg,
		group:     group,
		index:     index,
		count:     count,
		cloudName: cloudName,
		flatfile:  flatfile,
		logPath:   filepath.Join(cfg.OutputDir, fmt.Sprintf("node_%d_%d.out.txt", group, index)),
		logger:    logger.WithFields(logrus.Fields{"cloud": group, "node": index}),
	}
}

// PortHint is the port this node asks the worker to bind.
func (n *Node) PortHint() int {
	return PortHint(n.cfg.BasePort, n.group, n.count, n.index)
}

// HintAddr is the ip:port written to the group flatfile.
func (n *Node) HintAddr() string {
	return net.JoinHostPort(n.cfg.IP, strconv.Itoa(n.PortHint()))
}

// LogPath is the file receiving the worker's combined output.
func (n *Node) LogPath() string {
	return n.logPath
}

// Argv builds the launch command.
func (n *Node) Argv() []string {
	argv := []string{n.cfg.Bin}
	if n.cfg.Jar != "" {
		if n.cfg.Xmx != "" {
			argv = append(argv, "-Xmx"+n.cfg.Xmx)
		}
		argv = append(argv, n.cfg.JVMArgs...)
		argv = append(argv, "-jar", n.cfg.Jar)
	}
	argv = append(argv,
		"-name", n.cloudName,
		"-baseport", strconv.Itoa(n.PortHint()),
		"-ip", n.cfg.IP,
	)
	if n.flatfile != "" {
		argv = append(argv, "-flatfile", n.flatfile)
	}
	return append(argv, n.cfg.ExtraArgs...)
}

// Start spawns the worker. It does not wait for readiness. A node can be started
// only once; a stopped node must be replaced by a new one.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.proc != nil || n.stopped {
		return ErrAlreadyStarted
	}

	argv := n.Argv()
	p, err := proc.Start(proc.Spec{
		Argv:    argv,
		Dir:     n.cfg.OutputDir,
		LogPath: n.logPath,
	})
	if err != nil {
		return fmt.Errorf("start node %d/%d: %w", n.group, n.index, err)
	}

	n.proc = p
	n.startedAt = time.Now()
	nodesActive.Inc()

	n.logger.WithFields(logrus.Fields{
		"pid":       p.Pid(),
		"port_hint": n.PortHint(),
		"log":       n.logPath,
	}).Debug("node started")
	return nil
}

// AwaitReady polls the worker log until the ready marker appears and records the
// scraped address. It fails if the worker exits first or timeout elapses.
func (n *Node) AwaitReady(ctx context.Context, timeout time.Duration) error {
	p := n.process()
	if p == nil {
		return ErrNotStarted
	}

	err := n.poll(ctx, timeout, func(data []byte) bool {
		addr, ok := ScrapeAddress(data)
		if !ok {
			return false
		}
		n.mu.Lock()
		n.addr = addr
		n.ready = true
		n.mu.Unlock()
		return true
	})
	if err != nil {
		return fmt.Errorf("node %d/%d ready: %w", n.group, n.index, err)
	}

	nodeReadyDuration.Observe(time.Since(n.startedAt).Seconds())
	n.logger.WithField("endpoint", n.Endpoint()).Info("node ready")
	return nil
}

// AwaitFormed polls the worker log until it announces a cluster of size members.
func (n *Node) AwaitFormed(ctx context.Context, size int, timeout time.Duration) error {
	if n.process() == nil {
		return ErrNotStarted
	}
	err := n.poll(ctx, timeout, func(data []byte) bool {
		return ScrapeFormed(data, size)
	})
	if err != nil {
		return fmt.Errorf("node %d/%d cluster of size %d: %w", n.group, n.index, size, err)
	}
	return nil
}

// poll re-reads the whole log every poll interval until found returns true.
func (n *Node) poll(ctx context.Context, timeout time.Duration, found func([]byte) bool) error {
	p := n.process()
	attempts := uint(timeout/n.cfg.PollInterval) + 1

	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if data, err := os.ReadFile(n.logPath); err == nil && found(data) {
				return nil
			}
			if p.Exited() {
				return fmt.Errorf("%w (exit code %d, see %s)", ErrExited, p.ExitCode(), n.logPath)
			}
			return errNotYet
		},
		retry.Attempts(attempts),
		retry.Delay(n.cfg.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errNotYet) }),
	)
	if errors.Is(err, errNotYet) {
		return fmt.Errorf("%w after %s (see %s)", ErrReadyTimeout, timeout, n.logPath)
	}
	return err
}

// Endpoint returns ip:port scraped from the ready marker, or "" before readiness.
func (n *Node) Endpoint() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ready {
		return ""
	}
	return net.JoinHostPort(n.addr.IP, strconv.Itoa(n.addr.Port))
}

// Address returns the scraped address and whether the node is ready.
func (n *Node) Address() (Address, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr, n.ready
}

// Alive reports whether the worker process is still running.
func (n *Node) Alive() bool {
	p := n.process()
	return p != nil && !p.Exited()
}

// Terminated reports whether the node was stopped by the signal path.
func (n *Node) Terminated() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.terminated
}

// Stop shuts the worker down gracefully then forcibly. It is idempotent and safe
// to call on a node that was never started.
func (n *Node) Stop() error {
	n.mu.Lock()
	p := n.proc
	already := n.stopped
	n.stopped = true
	n.mu.Unlock()

	if p == nil || already {
		return nil
	}
	defer nodesActive.Dec()

	if err := p.Stop(n.cfg.StopGrace); err != nil {
		return fmt.Errorf("stop node %d/%d: %w", n.group, n.index, err)
	}
	n.logger.Debug("node stopped")
	return nil
}

// Terminate flags the node as killed by operator signal, then stops it.
func (n *Node) Terminate() error {
	n.mu.Lock()
	n.terminated = true
	n.mu.Unlock()
	return n.Stop()
}

func (n *Node) process() *proc.Process {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.proc
}
