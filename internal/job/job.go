// Package job runs one test script as a child process bound to a cloud
// endpoint and classifies its result.
package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/h2oai/h2o-3-sub001/internal/model"
	"github.com/h2oai/h2o-3-sub001/internal/proc"
)

// Exit code contract with test drivers.
const (
	// ExitNotRun is the exit code of a job that never reported one.
	ExitNotRun = -1

	// ExitSkip is returned by a test that does not apply to the environment.
	ExitSkip = 42
)

// DefaultStopGrace bounds each phase of killing a job.
const DefaultStopGrace = 5 * time.Second

var (
	// ErrAlreadyStarted is returned by Start and Cancel once the job has a process.
	ErrAlreadyStarted = errors.New("job already started")
	// ErrCancelled is returned by Start for a job cancelled before it ran.
	ErrCancelled = errors.New("job cancelled")
	// ErrTerminated is returned by Start for a job terminated by the operator.
	ErrTerminated = errors.New("job terminated")
	// ErrNotRunning is returned by Terminate when there is no process to kill.
	ErrNotRunning = errors.New("job not running")
)

var seedPattern = regexp.MustCompile(`SEED used: (-?\d+)`)

// Config holds settings shared by every job of a run.
type Config struct {
	RBin         string
	PythonBin    string
	PhantomJSBin string

	// OutputDir receives job logs and is passed to drivers as the results dir.
	OutputDir string

	StopGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.RBin == "" {
		c.RBin = DefaultRBin
	}
	if c.PythonBin == "" {
		c.PythonBin = DefaultPythonBin
	}
	if c.PhantomJSBin == "" {
		c.PhantomJSBin = DefaultPhantomJSBin
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	return c
}

// Job is one test script execution. It is started at most once.
type Job struct {
	path   string
	script string
	name   string
	class  Classification
	cfg    Config

	mu         sync.Mutex
	proc       *proc.Process
	endpoint   string
	startedAt  time.Time
	finishedAt time.Time
	exitCode   int
	completed  bool
	cancelled  bool
	terminated bool
	outcome    model.Outcome
}

// New creates a pending job for the test at path.
func New(path string, class Classification, cfg Config) *Job {
	script, err := filepath.Abs(path)
	if err != nil {
		script = path
	}
	base := filepath.Base(path)
	return &Job{
		path:     path,
		script:   script,
		name:     strings.TrimSuffix(base, filepath.Ext(base)),
		class:    class,
		cfg:      cfg.withDefaults(),
		exitCode: ExitNotRun,
		outcome:  model.OutcomePending,
	}
}

// Path is the test path as discovered or listed.
func (j *Job) Path() string { return j.path }

// Name is the logical test name passed to the driver.
func (j *Job) Name() string { return j.name }

// Class is the job's classification.
func (j *Job) Class() Classification { return j.class }

// Slug is the file-name-safe form of Path.
func (j *Job) Slug() string { return Slug(j.path) }

// LogPath is the file receiving the job's combined output.
func (j *Job) LogPath() string {
	return filepath.Join(j.cfg.OutputDir, j.Slug()+".out.txt")
}

// Start launches the test against the cloud at endpoint. It does not block.
func (j *Job) Start(endpoint string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case j.cancelled:
		return ErrCancelled
	case j.terminated:
		return ErrTerminated
	case j.proc != nil || j.outcome != model.OutcomePending:
		return ErrAlreadyStarted
	}

	argv := j.Argv(endpoint)
	if argv == nil {
		return fmt.Errorf("job %s: no driver for %s/%s", j.path, j.class.Kind, j.class.Lang)
	}

	p, err := proc.Start(proc.Spec{
		Argv:    argv,
		Dir:     filepath.Dir(j.script),
		LogPath: j.LogPath(),
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", j.path, err)
	}

	j.proc = p
	j.endpoint = endpoint
	j.startedAt = time.Now()
	j.setOutcome(model.OutcomeRunning)
	return nil
}

// IsCompleted polls the child without blocking and records its exit code the
// first time it is seen finished.
func (j *Job) IsCompleted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.completed {
		return true
	}
	if j.proc == nil || !j.proc.Exited() {
		return false
	}
	j.finish(classifyExit(j.proc.ExitCode()))
	return true
}

// Cancel marks a job that has not started so it is never run.
func (j *Job) Cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.proc != nil {
		return ErrAlreadyStarted
	}
	j.cancelled = true
	j.setOutcome(model.OutcomeCancelled)
	return nil
}

// Terminate kills a running job on operator request. Terminating a job that
// already completed is a no-op.
func (j *Job) Terminate() error {
	return j.kill(model.OutcomeTerminated, true)
}

// Abandon records a job the harness gave up on as did-not-complete, killing
// it if it is still running.
func (j *Job) Abandon() error {
	j.mu.Lock()
	if j.proc == nil {
		j.setOutcome(model.OutcomeDidNotComplete)
		j.mu.Unlock()
		return nil
	}
	j.mu.Unlock()

	err := j.kill(model.OutcomeDidNotComplete, false)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

func (j *Job) kill(outcome model.Outcome, operator bool) error {
	j.mu.Lock()
	p := j.proc
	if p == nil {
		j.mu.Unlock()
		return ErrNotRunning
	}
	if j.completed {
		j.mu.Unlock()
		return nil
	}
	if operator {
		j.terminated = true
	}
	j.mu.Unlock()

	stopErr := p.Stop(j.cfg.StopGrace)

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.completed {
		j.finish(outcome)
	}
	if stopErr != nil {
		return fmt.Errorf("job %s: %w", j.path, stopErr)
	}
	return nil
}

// finish must be called with mu held.
func (j *Job) finish(outcome model.Outcome) {
	j.completed = true
	j.finishedAt = time.Now()
	if j.proc != nil {
		j.exitCode = j.proc.ExitCode()
	}
	j.setOutcome(outcome)
}

// setOutcome ignores transitions out of a terminal outcome. Must hold mu.
func (j *Job) setOutcome(to model.Outcome) {
	if model.ValidTransition(j.outcome, to) {
		j.outcome = to
	}
}

// classifyExit applies the driver exit code contract.
func classifyExit(code int) model.Outcome {
	switch {
	case code == 0:
		return model.OutcomePassed
	case code == ExitSkip:
		return model.OutcomeSkipped
	case code > 0:
		return model.OutcomeFailed
	default:
		return model.OutcomeDidNotComplete
	}
}

// Outcome returns the job's current classification.
func (j *Job) Outcome() model.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

// ExitCode is authoritative only once IsCompleted has returned true.
func (j *Job) ExitCode() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitCode
}

// Endpoint is the cloud the job was started against.
func (j *Job) Endpoint() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.endpoint
}

// StartedAt is zero for a job that never started.
func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt
}

// Duration is the wall time from start to observed completion.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() {
		return 0
	}
	if j.finishedAt.IsZero() {
		return time.Since(j.startedAt)
	}
	return j.finishedAt.Sub(j.startedAt)
}

// Tolerated reports whether this job's non-passing result is excused by its
// NOPASS or NOFEATURE tag.
func (j *Job) Tolerated() bool {
	if !j.class.Tolerable() {
		return false
	}
	switch j.Outcome() {
	case model.OutcomeFailed, model.OutcomeSkipped:
		return true
	}
	return false
}

// Seed returns the random seed the test reported, or "" when it reported none.
func (j *Job) Seed() string {
	data, err := os.ReadFile(j.LogPath())
	if err != nil {
		return ""
	}
	if m := seedPattern.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return ""
}

// Result snapshots the job's record. cloud is the index of the cloud it ran on,
// or -1 if it never ran.
func (j *Job) Result(cloud int) model.Result {
	return model.Result{
		Path:      j.path,
		Name:      j.name,
		Slug:      j.Slug(),
		Kind:      j.class.Kind,
		Lang:      j.class.Lang,
		Size:      j.class.Size,
		Tags:      j.class.Tags,
		Outcome:   j.Outcome(),
		ExitCode:  j.ExitCode(),
		Tolerated: j.Tolerated(),
		Seed:      j.Seed(),
		Cloud:     cloud,
		Endpoint:  j.Endpoint(),
		LogPath:   j.LogPath(),
		StartedAt: j.StartedAt(),
		Duration:  j.Duration(),
	}
}
