//go:build !windows

package cloud

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/h2oai/h2o-3-sub001/internal/node"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func writeWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}
	return path
}

func newTestGroup(t *testing.T, bin string, nodes int) *Group {
	t.Helper()
	g := NewGroup(1, GroupConfig{
		Node: node.Config{
			Bin:          bin,
			OutputDir:    t.TempDir(),
			BasePort:     41000,
			PollInterval: 20 * time.Millisecond,
			StopGrace:    time.Second,
		},
		Nodes:         nodes,
		NamePrefix:    "test",
		ReadyTimeout:  3 * time.Second,
		FormedTimeout: 3 * time.Second,
	}, testLogger())
	t.Cleanup(func() { g.Stop() })
	return g
}

const formingWorker = `echo "Open H2O Flow in your web browser: http://127.0.0.1:54321"
echo "Cloud of size 2 formed [/127.0.0.1:54321]"
exec sleep 30`

func TestGroupStartAndReady(t *testing.T) {
	g := newTestGroup(t, writeWorker(t, formingWorker), 2)

	if g.State() != StateCreated {
		t.Fatalf("state = %s, want created", g.State())
	}
	if g.Endpoint() != "" {
		t.Fatalf("endpoint before start = %q", g.Endpoint())
	}

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(g.Name(), "test_") {
		t.Errorf("name = %q, want test_ prefix", g.Name())
	}
	if len(g.Nodes()) != 2 {
		t.Fatalf("nodes = %d, want 2", len(g.Nodes()))
	}

	if err := g.AwaitReady(context.Background()); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if g.State() != StateReady {
		t.Errorf("state = %s, want ready", g.State())
	}
	if got := g.Endpoint(); got != "127.0.0.1:54321" {
		t.Errorf("Endpoint = %q", got)
	}
	if got := g.BaseURL(); got != "http://127.0.0.1:54321" {
		t.Errorf("BaseURL = %q", got)
	}

	if err := g.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if g.State() != StateStopped {
		t.Errorf("state = %s, want stopped", g.State())
	}
	for _, n := range g.Nodes() {
		if n.Alive() {
			t.Error("node still alive after Stop")
		}
	}
}

func TestGroupFlatfile(t *testing.T) {
	g := newTestGroup(t, writeWorker(t, formingWorker), 2)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(g.cfg.Node.OutputDir, "flatfile_1.txt"))
	if err != nil {
		t.Fatalf("read flatfile: %v", err)
	}
	want := "127.0.0.1:41004\n127.0.0.1:41006\n"
	if string(data) != want {
		t.Errorf("flatfile = %q, want %q", data, want)
	}
}

func TestGroupUniqueNames(t *testing.T) {
	bin := writeWorker(t, formingWorker)
	a := newTestGroup(t, bin, 1)
	b := newTestGroup(t, bin, 1)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Name() == b.Name() {
		t.Errorf("two groups share name %q", a.Name())
	}
}

func TestGroupSplitCloudNotFormed(t *testing.T) {
	// Each member only sees itself.
	bin := writeWorker(t, `echo "Open H2O Flow in your web browser: http://127.0.0.1:54321"
echo "Cloud of size 1 formed"
exec sleep 30`)
	g := newTestGroup(t, bin, 2)
	g.cfg.FormedTimeout = 200 * time.Millisecond

	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := g.AwaitReady(context.Background())
	if !errors.Is(err, node.ErrReadyTimeout) {
		t.Fatalf("AwaitReady = %v, want ErrReadyTimeout", err)
	}
	if g.State() == StateReady {
		t.Error("split cloud reported ready")
	}
}

func TestGroupMemberExits(t *testing.T) {
	g := newTestGroup(t, writeWorker(t, `echo "port in use"; exit 1`), 1)
	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := g.AwaitReady(context.Background()); !errors.Is(err, node.ErrExited) {
		t.Fatalf("AwaitReady = %v, want ErrExited", err)
	}
}

func TestGroupStartTwice(t *testing.T) {
	g := newTestGroup(t, writeWorker(t, formingWorker), 1)
	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := g.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestGroupTerminate(t *testing.T) {
	g := newTestGroup(t, writeWorker(t, formingWorker), 2)
	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := g.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if g.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", g.State())
	}
	for _, n := range g.Nodes() {
		if !n.Terminated() {
			t.Error("node not flagged terminated")
		}
	}

	// Terminated is absorbing.
	g.Stop()
	if g.State() != StateTerminated {
		t.Errorf("state after Stop = %s, want terminated", g.State())
	}
}

func TestGroupStopBeforeStart(t *testing.T) {
	g := newTestGroup(t, "unused", 2)
	if err := g.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestExternal(t *testing.T) {
	tests := []struct {
		in       string
		endpoint string
		baseURL  string
	}{
		{"10.0.0.5:54321", "10.0.0.5:54321", "http://10.0.0.5:54321"},
		{"https://h2o.local:443/", "h2o.local:443", "https://h2o.local:443"},
	}
	for _, tt := range tests {
		e := NewExternal(0, tt.in)
		if e.Endpoint() != tt.endpoint {
			t.Errorf("%s: Endpoint = %q, want %q", tt.in, e.Endpoint(), tt.endpoint)
		}
		if e.BaseURL() != tt.baseURL {
			t.Errorf("%s: BaseURL = %q, want %q", tt.in, e.BaseURL(), tt.baseURL)
		}
		if e.State() != StateReady {
			t.Errorf("%s: state = %s, want ready", tt.in, e.State())
		}
	}

	e := NewExternal(0, "127.0.0.1:1")
	e.Terminate()
	e.Stop()
	if e.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", e.State())
	}
}
