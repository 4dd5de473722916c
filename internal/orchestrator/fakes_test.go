//go:build !windows

package orchestrator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/h2oai/h2o-3-sub001/internal/cloud"
	"github.com/h2oai/h2o-3-sub001/internal/job"
	"github.com/h2oai/h2o-3-sub001/internal/model"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeCloud is a cloud whose health endpoint is an httptest server answering
// from a scripted sequence.
type fakeCloud struct {
	idx      int
	srv      *httptest.Server
	readyErr error

	// healthy decides the answer to the n-th health check, counting from 1.
	healthy func(n int64) bool
	checks  atomic.Int64

	mu         sync.Mutex
	state      cloud.State
	stops      int
	terminates int
}

var _ cloud.Cloud = (*fakeCloud)(nil)

func newFakeCloud(t *testing.T, idx int, healthy func(n int64) bool) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{idx: idx, healthy: healthy, state: cloud.StateCreated}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := fc.checks.Add(1)
		ok := fc.healthy == nil || fc.healthy(n)
		w.Header().Set("Content-Type", "application/json")
		if ok {
			io.WriteString(w, `{"cloud_healthy":true}`)
		} else {
			io.WriteString(w, `{"cloud_healthy":false}`)
		}
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (f *fakeCloud) Index() int      { return f.idx }
func (f *fakeCloud) Name() string    { return "fake" }
func (f *fakeCloud) BaseURL() string { return f.srv.URL }

func (f *fakeCloud) Endpoint() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func (f *fakeCloud) Start(context.Context) error {
	f.setState(cloud.StateStarting)
	return nil
}

func (f *fakeCloud) AwaitReady(context.Context) error {
	if f.readyErr != nil {
		return f.readyErr
	}
	f.setState(cloud.StateReady)
	return nil
}

func (f *fakeCloud) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.state != cloud.StateTerminated {
		f.state = cloud.StateStopped
	}
	return nil
}

func (f *fakeCloud) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++
	f.state = cloud.StateTerminated
	return nil
}

func (f *fakeCloud) State() cloud.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCloud) setState(s cloud.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// recorder is an in-memory Reporter that also checks exclusive occupancy.
type recorder struct {
	mu        sync.Mutex
	started   []string
	finished  []model.Result
	summary   *model.Summary
	failed    []model.Result
	busy      map[int]string
	conflicts []string
}

func newRecorder() *recorder {
	return &recorder{busy: make(map[int]string)}
}

func (r *recorder) JobStarted(path string, cloud int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.busy[cloud]; ok {
		r.conflicts = append(r.conflicts, other+" and "+path)
	}
	r.busy[cloud] = path
	r.started = append(r.started, path)
	return nil
}

func (r *recorder) JobFinished(res model.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy[res.Cloud] == res.Path {
		delete(r.busy, res.Cloud)
	}
	r.finished = append(r.finished, res)
	return nil
}

func (r *recorder) RunFinished(s model.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &s
	return nil
}

func (r *recorder) WriteFailed(results []model.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = results
	return nil
}

func (r *recorder) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

// outcomes maps base file name to recorded outcome.
func (r *recorder) outcomes() map[string]model.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.Outcome, len(r.finished))
	for _, res := range r.finished {
		out[filepath.Base(res.Path)] = res.Outcome
	}
	return out
}

type shJobs struct {
	t   *testing.T
	dir string
	cfg job.Config
}

func newShJobs(t *testing.T) *shJobs {
	return &shJobs{
		t:   t,
		dir: t.TempDir(),
		cfg: job.Config{
			RBin:      "/bin/sh",
			PythonBin: "/bin/sh",
			OutputDir: t.TempDir(),
			StopGrace: time.Second,
		},
	}
}

// add writes a shell script under a test file name and returns its job.
func (s *shJobs) add(name, body string) *job.Job {
	s.t.Helper()
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(body+"\n"), 0o644); err != nil {
		s.t.Fatalf("write %s: %v", name, err)
	}
	class, ok := job.Classify(path)
	if !ok {
		s.t.Fatalf("%s is not a test name", name)
	}
	j := job.New(path, class, s.cfg)
	s.t.Cleanup(func() { j.Terminate() })
	return j
}

func clouds(cs ...*fakeCloud) []cloud.Cloud {
	out := make([]cloud.Cloud, len(cs))
	for i, c := range cs {
		out[i] = c
	}
	return out
}

func testConfig() Config {
	return Config{
		AcquireTimeout: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}
}

func newTestOrchestrator(cfg Config, cs []cloud.Cloud, jobs []*job.Job, rec Reporter, opts ...Option) *Orchestrator {
	return New(cfg, cs, jobs, cloud.NewHealthChecker(time.Second), rec, testLogger(), opts...)
}

// collect drains broker events until the stream closes.
func collect(b *Broker) func() []Event {
	ch, _ := b.Subscribe()
	var (
		mu     sync.Mutex
		events []Event
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		for ev := range ch {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()
	return func() []Event {
		<-done
		mu.Lock()
		defer mu.Unlock()
		return events
	}
}
