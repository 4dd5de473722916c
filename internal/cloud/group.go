package cloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/h2oai/h2o-3-sub001/internal/model"
	"github.com/h2oai/h2o-3-sub001/internal/node"
)

// Defaults for group readiness.
const (
	DefaultNamePrefix    = "h2otest"
	DefaultReadyTimeout  = 120 * time.Second
	DefaultFormedTimeout = 60 * time.Second
)

// GroupConfig configures a locally launched cloud.
type GroupConfig struct {
	Node          node.Config
	Nodes         int
	NamePrefix    string
	ReadyTimeout  time.Duration
	FormedTimeout time.Duration
}

// Group is a cloud made of N symmetric worker processes launched by this run.
type Group struct {
	index  int
	cfg    GroupConfig
	logger *logrus.Entry

	mu       sync.Mutex
	name     string
	flatfile string
	nodes    []*node.Node
	state    State
}

var _ Cloud = (*Group)(nil)

// NewGroup creates a cloud in the created state.
func NewGroup(index int, cfg GroupConfig, logger *logrus.Entry) *Group {
	if cfg.Nodes <= 0 {
		cfg.Nodes = 1
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = DefaultNamePrefix
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.FormedTimeout <= 0 {
		cfg.FormedTimeout = DefaultFormedTimeout
	}
	return &Group{
		index:  index,
		cfg:    cfg,
		logger: logger.WithField("cloud", index),
		state:  StateCreated,
	}
}

// Index implements Cloud.
func (g *Group) Index() int { return g.index }

// Name implements Cloud. It is empty before Start.
func (g *Group) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name
}

// State implements Cloud.
func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Nodes returns the group's members in launch order.
func (g *Group) Nodes() []*node.Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*node.Node(nil), g.nodes...)
}

// Start generates a unique cloud name, writes the flatfile every member uses to
// find its peers, and launches the members back to back.
func (g *Group) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateCreated {
		return fmt.Errorf("cloud %d: start in state %s", g.index, g.state)
	}
	g.state = StateStarting

	// Unique across harness instances sharing a host.
	g.name = fmt.Sprintf("%s_%s_%d", g.cfg.NamePrefix, strings.ToLower(model.NewID()), g.index)
	g.flatfile = filepath.Join(g.cfg.Node.OutputDir, fmt.Sprintf("flatfile_%d.txt", g.index))

	nodes := make([]*node.Node, g.cfg.Nodes)
	var hints strings.Builder
	for i := range nodes {
		nodes[i] = node.New(g.cfg.Node, g.name, g.index, i, g.cfg.Nodes, g.flatfile, g.logger)
		hints.WriteString(nodes[i].HintAddr())
		hints.WriteByte('\n')
	}
	g.nodes = nodes

	if err := os.WriteFile(g.flatfile, []byte(hints.String()), 0o644); err != nil {
		return fmt.Errorf("cloud %d: write flatfile: %w", g.index, err)
	}

	for _, n := range nodes {
		if err := n.Start(); err != nil {
			return fmt.Errorf("cloud %d: %w", g.index, err)
		}
	}

	g.logger.WithFields(logrus.Fields{"name": g.name, "nodes": len(nodes)}).Info("cloud starting")
	return nil
}

// AwaitReady waits for each member's ready marker in turn, then rescans every
// member's log for the cluster-formed marker so a split cloud is detected.
func (g *Group) AwaitReady(ctx context.Context) error {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return fmt.Errorf("cloud %d: not started", g.index)
	}

	for _, n := range nodes {
		if err := n.AwaitReady(ctx, g.cfg.ReadyTimeout); err != nil {
			return fmt.Errorf("cloud %d: %w", g.index, err)
		}
	}
	for _, n := range nodes {
		if err := n.AwaitFormed(ctx, len(nodes), g.cfg.FormedTimeout); err != nil {
			return fmt.Errorf("cloud %d: %w", g.index, err)
		}
	}

	g.mu.Lock()
	if g.state == StateStarting {
		g.state = StateReady
	}
	g.mu.Unlock()

	g.logger.WithField("endpoint", g.Endpoint()).Info("cloud ready")
	return nil
}

// Endpoint implements Cloud using the first member.
func (g *Group) Endpoint() string {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return ""
	}
	return nodes[0].Endpoint()
}

// BaseURL implements Cloud.
func (g *Group) BaseURL() string {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return ""
	}
	addr, ok := nodes[0].Address()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s://%s", addr.Scheme, nodes[0].Endpoint())
}

// Stop implements Cloud.
func (g *Group) Stop() error {
	g.mu.Lock()
	if g.state != StateTerminated {
		g.state = StateStopped
	}
	g.mu.Unlock()
	return g.fanOut((*node.Node).Stop)
}

// Terminate implements Cloud.
func (g *Group) Terminate() error {
	g.mu.Lock()
	g.state = StateTerminated
	g.mu.Unlock()
	return g.fanOut((*node.Node).Terminate)
}

// fanOut applies fn to every member concurrently and aggregates the errors.
func (g *Group) fanOut(fn func(*node.Node) error) error {
	var (
		eg     errgroup.Group
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, n := range g.Nodes() {
		eg.Go(func() error {
			if err := fn(n); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return result.ErrorOrNil()
}
