package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/h2oai/h2o-3-sub001/internal/cloud"
	"github.com/h2oai/h2o-3-sub001/internal/job"
	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// Defaults for scheduling.
const (
	DefaultAcquireTimeout = 60 * time.Minute
	DefaultPollInterval   = 500 * time.Millisecond
)

// HealthChecker reports whether the cloud at baseURL is healthy.
type HealthChecker interface {
	Check(ctx context.Context, baseURL string) (bool, error)
}

// Reporter persists run artifacts.
type Reporter interface {
	JobStarted(path string, cloud int, endpoint string) error
	JobFinished(r model.Result) error
	RunFinished(s model.Summary) error
	WriteFailed(results []model.Result) error
}

// Recorder keeps a history of runs. It is optional.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, total int) error
	JobFinished(ctx context.Context, runID string, r model.Result) error
	RunFinished(ctx context.Context, runID string, s model.Summary, runErr error) error
}

// Config controls scheduling.
type Config struct {
	// RunID identifies the run in events and history. Generated when empty.
	RunID string

	// AcquireTimeout bounds every wait for a cloud to free up.
	AcquireTimeout time.Duration

	// PollInterval is the sleep between polls of running jobs.
	PollInterval time.Duration

	// TolerateUnhealthy parks clouds that fail a health check as suspicious
	// instead of condemning them.
	TolerateUnhealthy bool
}

// Phase is the coarse progress of a run.
type Phase string

// Run phases.
const (
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseDraining Phase = "draining"
	PhaseStopping Phase = "stopping"
	PhaseFinished Phase = "finished"
)

// Orchestrator schedules jobs onto clouds. Run is called once.
type Orchestrator struct {
	cfg      Config
	clouds   []cloud.Cloud
	health   HealthChecker
	reporter Reporter
	history  Recorder
	state    *State
	broker   *Broker
	logger   *logrus.Entry

	// Guarded by mu: the control goroutine writes, Snapshot reads.
	mu       sync.Mutex
	phase    Phase
	pools    pools
	queue    []*job.Job
	running  map[int]*job.Job
	results  []model.Result
	summary  model.Summary
	finished map[*job.Job]bool
	runErr   error

	// parked holds clouds excluded since the last poll sleep. Control goroutine only.
	parked map[int]bool
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithHistory records the run in r.
func WithHistory(r Recorder) Option {
	return func(o *Orchestrator) { o.history = r }
}

// WithState shares a termination state with a signal watcher.
func WithState(s *State) Option {
	return func(o *Orchestrator) { o.state = s }
}

// WithBroker publishes events to b instead of a private broker.
func WithBroker(b *Broker) Option {
	return func(o *Orchestrator) { o.broker = b }
}

// New creates an orchestrator for jobs over clouds. Cloud indices must be
// 0..len(clouds)-1.
func New(cfg Config, clouds []cloud.Cloud, jobs []*job.Job, health HealthChecker, reporter Reporter, logger *logrus.Entry, opts ...Option) *Orchestrator {
	if cfg.RunID == "" {
		cfg.RunID = model.NewID()
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	o := &Orchestrator{
		cfg:      cfg,
		clouds:   clouds,
		health:   health,
		reporter: reporter,
		logger:   logger.WithField("run_id", cfg.RunID),
		phase:    PhaseStarting,
		pools:    newPools(len(clouds)),
		queue:    append([]*job.Job(nil), jobs...),
		running:  make(map[int]*job.Job),
		finished: make(map[*job.Job]bool),
		parked:   make(map[int]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.state == nil {
		o.state = NewState()
	}
	if o.broker == nil {
		o.broker = NewBroker()
	}
	return o
}

// RunID identifies this run.
func (o *Orchestrator) RunID() string { return o.cfg.RunID }

// Broker returns the event broker.
func (o *Orchestrator) Broker() *Broker { return o.broker }

// State returns the termination state.
func (o *Orchestrator) State() *State { return o.state }

// Run starts the clouds, executes every queued job and tears the clouds down.
// It returns the run summary and the fatal error that ended the run, if any.
// Teardown and reporting happen on every path.
func (o *Orchestrator) Run(ctx context.Context) (model.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.state.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	o.logger.WithFields(logrus.Fields{"jobs": len(o.queue), "clouds": len(o.clouds)}).Info("run starting")
	o.publish(Event{Type: EventRunStarted})
	if o.history != nil {
		if err := o.history.RunStarted(context.Background(), o.cfg.RunID, len(o.queue)); err != nil {
			o.logger.WithError(err).Warn("failed to record run start")
		}
	}
	o.updateCloudGauge()

	err := o.schedule(ctx)
	if err != nil && (o.state.Terminated() || ctx.Err() != nil) {
		err = ErrTerminated
	}

	switch {
	case errors.Is(err, ErrTerminated):
		o.cascade()
	case err != nil:
		o.abort(err)
	}

	o.teardown()
	return o.finish(err), err
}

// schedule is the control loop: start clouds, prime, dispatch, drain.
func (o *Orchestrator) schedule(ctx context.Context) error {
	if err := o.startClouds(ctx); err != nil {
		return err
	}

	o.setPhase(PhaseRunning)
	o.prime()

	// One deadline per queued job: excluding a cloud does not extend it.
	deadline := time.Now().Add(o.cfg.AcquireTimeout)
	for o.queued() > 0 {
		if o.interrupted(ctx) {
			return ErrTerminated
		}

		idx, err := o.acquire(ctx, deadline)
		if err != nil {
			return err
		}

		if !o.check(ctx, idx) {
			if err := o.exclude(idx); err != nil {
				return err
			}
			continue
		}
		o.dispatch(idx)
		deadline = time.Now().Add(o.cfg.AcquireTimeout)
	}

	o.setPhase(PhaseDraining)
	return o.drain(ctx)
}

// startClouds launches every cloud back to back, then waits for each in turn.
// Any cloud failing to come up aborts the run before dispatch.
func (o *Orchestrator) startClouds(ctx context.Context) error {
	for _, c := range o.clouds {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start cloud %d: %w", c.Index(), err)
		}
	}
	for _, c := range o.clouds {
		if err := c.AwaitReady(ctx); err != nil {
			return fmt.Errorf("cloud %d not ready: %w", c.Index(), err)
		}
		o.publishCloud(c.Index())
	}
	return nil
}

// prime starts one job on each cloud while jobs remain.
func (o *Orchestrator) prime() {
	for _, c := range o.clouds {
		if o.queued() == 0 {
			return
		}
		o.dispatch(c.Index())
	}
}

// acquire returns a cloud that can take the next job: one whose job has just
// finished, an idle cloud in good standing, or a suspicious cloud that passes
// a health check again. A cloud excluded since the last poll sleep is not
// probed until the next one.
func (o *Orchestrator) acquire(ctx context.Context, deadline time.Time) (int, error) {
	for {
		if idx, ok := o.reapOne(); ok {
			return idx, nil
		}
		if idx, ok := o.idle(); ok {
			return idx, nil
		}

		suspicious := o.members(PoolSuspicious)
		for _, idx := range suspicious {
			if o.parked[idx] {
				continue
			}
			if o.check(ctx, idx) {
				o.move(idx, PoolAvailable)
				o.logger.WithField("cloud", idx).Info("suspicious cloud recovered")
				return idx, nil
			}
		}

		if o.runningCount() == 0 && len(suspicious) == 0 {
			return 0, ErrNoProgress
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w after %s", ErrAcquireTimeout, o.cfg.AcquireTimeout)
		}
		if err := o.sleep(ctx); err != nil {
			return 0, err
		}
		clear(o.parked)
	}
}

// drain waits for every running job, each wait bounded by the acquire timeout.
func (o *Orchestrator) drain(ctx context.Context) error {
	deadline := time.Now().Add(o.cfg.AcquireTimeout)
	for o.runningCount() > 0 {
		if o.interrupted(ctx) {
			return ErrTerminated
		}
		if _, ok := o.reapOne(); ok {
			deadline = time.Now().Add(o.cfg.AcquireTimeout)
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("drain: %w after %s", ErrAcquireTimeout, o.cfg.AcquireTimeout)
		}
		if err := o.sleep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// reapOne polls running jobs in cloud order and records the first completed
// one, freeing its cloud.
func (o *Orchestrator) reapOne() (int, bool) {
	for _, idx := range o.runningClouds() {
		j := o.runningJob(idx)
		if j == nil || !j.IsCompleted() {
			continue
		}
		o.mu.Lock()
		delete(o.running, idx)
		o.mu.Unlock()
		o.record(j, idx)
		o.publishCloud(idx)
		return idx, true
	}
	return 0, false
}

// idle returns an available cloud with no running job.
func (o *Orchestrator) idle() (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, idx := range o.pools.members(PoolAvailable) {
		if _, busy := o.running[idx]; !busy {
			return idx, true
		}
	}
	return 0, false
}

// check health checks a cloud. Errors count as unhealthy.
func (o *Orchestrator) check(ctx context.Context, idx int) bool {
	c := o.clouds[idx]
	ok, err := o.health.Check(ctx, c.BaseURL())
	log := o.logger.WithFields(logrus.Fields{"cloud": idx, "endpoint": c.Endpoint()})
	switch {
	case err != nil:
		healthChecksTotal.WithLabelValues("error").Inc()
		log.WithError(err).Warn("health check failed")
		return false
	case !ok:
		healthChecksTotal.WithLabelValues("unhealthy").Inc()
		log.Warn("cloud reports unhealthy")
		return false
	}
	healthChecksTotal.WithLabelValues("healthy").Inc()
	return true
}

// exclude moves an unhealthy cloud out of the available pool. It fails when no
// usable cloud remains.
func (o *Orchestrator) exclude(idx int) error {
	to := PoolCondemned
	if o.cfg.TolerateUnhealthy {
		to = PoolSuspicious
	}
	o.move(idx, to)
	o.parked[idx] = true
	o.logger.WithFields(logrus.Fields{"cloud": idx, "pool": to}).Warn("cloud excluded")

	o.mu.Lock()
	usable := o.pools.usable()
	o.mu.Unlock()
	if usable == 0 {
		return ErrAllCondemned
	}
	return nil
}

// dispatch starts the next queued job on cloud idx. A job that fails to spawn
// is recorded as did-not-complete and the cloud stays idle.
func (o *Orchestrator) dispatch(idx int) {
	o.mu.Lock()
	if len(o.queue) == 0 {
		o.mu.Unlock()
		return
	}
	j := o.queue[0]
	o.queue = o.queue[1:]
	o.mu.Unlock()

	c := o.clouds[idx]
	log := o.logger.WithFields(logrus.Fields{"job": j.Path(), "cloud": idx})

	if err := j.Start(c.Endpoint()); err != nil {
		log.WithError(err).Error("failed to start job")
		if err := j.Abandon(); err != nil {
			log.WithError(err).Warn("failed to abandon job")
		}
		o.record(j, idx)
		return
	}

	o.mu.Lock()
	o.running[idx] = j
	o.mu.Unlock()

	log.WithField("endpoint", c.Endpoint()).Info("job started")
	if err := o.reporter.JobStarted(j.Path(), idx, c.Endpoint()); err != nil {
		log.WithError(err).Warn("failed to report job start")
	}
	r := j.Result(idx)
	o.publish(Event{Type: EventJobStarted, Job: &r})
	o.publishCloud(idx)
}

// record emits a job's terminal result exactly once.
func (o *Orchestrator) record(j *job.Job, idx int) {
	r := j.Result(idx)

	o.mu.Lock()
	if o.finished[j] {
		o.mu.Unlock()
		return
	}
	o.finished[j] = true
	o.results = append(o.results, r)
	o.summary.Record(r)
	o.mu.Unlock()

	jobsTotal.WithLabelValues(string(r.Outcome)).Inc()
	if !r.StartedAt.IsZero() {
		jobDuration.Observe(r.Duration.Seconds())
	}

	log := o.logger.WithFields(logrus.Fields{
		"job":       r.Path,
		"cloud":     idx,
		"outcome":   r.Outcome,
		"exit_code": r.ExitCode,
	})
	if r.Seed != "" {
		log = log.WithField("seed", r.Seed)
	}
	switch r.Outcome {
	case model.OutcomePassed, model.OutcomeSkipped, model.OutcomeCancelled:
		log.Info("job finished")
	default:
		log.Warn("job finished")
	}

	if err := o.reporter.JobFinished(r); err != nil {
		log.WithError(err).Warn("failed to report job result")
	}
	if o.history != nil {
		if err := o.history.JobFinished(context.Background(), o.cfg.RunID, r); err != nil {
			log.WithError(err).Warn("failed to record job result")
		}
	}
	o.publish(Event{Type: EventJobFinished, Job: &r})
}

// cascade handles an operator signal: queued jobs are cancelled, running jobs
// and every cloud are terminated. A job seen completed first keeps its result.
func (o *Orchestrator) cascade() {
	o.setPhase(PhaseStopping)
	o.logger.Warn("run terminated, cancelling queued jobs")

	for j := o.popQueued(); j != nil; j = o.popQueued() {
		if err := j.Cancel(); err != nil {
			o.logger.WithError(err).WithField("job", j.Path()).Warn("failed to cancel job")
		}
		o.record(j, -1)
	}

	for _, idx := range o.runningClouds() {
		j := o.runningJob(idx)
		if !j.IsCompleted() {
			if err := j.Terminate(); err != nil {
				o.logger.WithError(err).WithField("job", j.Path()).Warn("failed to terminate job")
			}
		}
		o.mu.Lock()
		delete(o.running, idx)
		o.mu.Unlock()
		o.record(j, idx)
	}

	for _, c := range o.clouds {
		if err := c.Terminate(); err != nil {
			o.logger.WithError(err).WithField("cloud", c.Index()).Warn("failed to terminate cloud")
		}
		o.publishCloud(c.Index())
	}
}

// abort handles a fatal scheduling error: every outstanding job is recorded as
// did-not-complete.
func (o *Orchestrator) abort(cause error) {
	o.setPhase(PhaseStopping)
	o.logger.WithError(cause).Error("run aborted")

	for _, idx := range o.runningClouds() {
		j := o.runningJob(idx)
		if !j.IsCompleted() {
			if err := j.Abandon(); err != nil {
				o.logger.WithError(err).WithField("job", j.Path()).Warn("failed to stop job")
			}
		}
		o.mu.Lock()
		delete(o.running, idx)
		o.mu.Unlock()
		o.record(j, idx)
	}

	for j := o.popQueued(); j != nil; j = o.popQueued() {
		if err := j.Abandon(); err != nil {
			o.logger.WithError(err).WithField("job", j.Path()).Warn("failed to abandon job")
		}
		o.record(j, -1)
	}
}

// teardown stops every cloud. Errors are logged, never returned.
func (o *Orchestrator) teardown() {
	var result *multierror.Error
	for _, c := range o.clouds {
		if err := c.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("cloud %d: %w", c.Index(), err))
		}
		o.publishCloud(c.Index())
	}
	if err := result.ErrorOrNil(); err != nil {
		o.logger.WithError(err).Warn("teardown incomplete")
	}
}

// finish writes the final report and closes the event stream.
func (o *Orchestrator) finish(runErr error) model.Summary {
	o.mu.Lock()
	o.phase = PhaseFinished
	o.runErr = runErr
	summary := o.summary
	results := append([]model.Result(nil), o.results...)
	o.mu.Unlock()

	if err := o.reporter.RunFinished(summary); err != nil {
		o.logger.WithError(err).Warn("failed to write summary")
	}
	if err := o.reporter.WriteFailed(results); err != nil {
		o.logger.WithError(err).Warn("failed to write failed list")
	}
	if o.history != nil {
		if err := o.history.RunFinished(context.Background(), o.cfg.RunID, summary, runErr); err != nil {
			o.logger.WithError(err).Warn("failed to record run end")
		}
	}

	ev := Event{Type: EventRunFinished, Summary: &summary}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	o.publish(ev)
	o.broker.Close()

	o.logger.WithFields(logrus.Fields{
		"total":            summary.Total,
		"passed":           summary.Passed,
		"failed":           summary.Failed,
		"skipped":          summary.Skipped,
		"did_not_complete": summary.DidNotComplete,
		"cancelled":        summary.Cancelled,
		"terminated":       summary.Terminated,
		"tolerated":        summary.Tolerated,
		"successful":       summary.Successful(),
	}).Info("run finished")
	return summary
}

// Results returns the recorded results in completion order.
func (o *Orchestrator) Results() []model.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.Result(nil), o.results...)
}

func (o *Orchestrator) interrupted(ctx context.Context) bool {
	return o.state.Terminated() || ctx.Err() != nil
}

func (o *Orchestrator) sleep(ctx context.Context) error {
	t := time.NewTimer(o.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ErrTerminated
	}
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

func (o *Orchestrator) queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Orchestrator) popQueued() *job.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	j := o.queue[0]
	o.queue = o.queue[1:]
	return j
}

func (o *Orchestrator) runningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

func (o *Orchestrator) runningJob(idx int) *job.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[idx]
}

// runningClouds returns the busy cloud indices, ascending.
func (o *Orchestrator) runningClouds() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []int
	for idx := range o.clouds {
		if _, ok := o.running[idx]; ok {
			out = append(out, idx)
		}
	}
	return out
}

func (o *Orchestrator) members(p Pool) []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pools.members(p)
}

func (o *Orchestrator) move(idx int, to Pool) {
	o.mu.Lock()
	o.pools[idx] = to
	o.mu.Unlock()
	o.updateCloudGauge()
	o.publishCloud(idx)
}

func (o *Orchestrator) updateCloudGauge() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range allPools {
		cloudsGauge.WithLabelValues(string(p)).Set(float64(o.pools.count(p)))
	}
}

func (o *Orchestrator) publish(ev Event) {
	ev.Time = time.Now().UTC()
	ev.RunID = o.cfg.RunID
	o.broker.Publish(ev)
}

func (o *Orchestrator) publishCloud(idx int) {
	st := o.cloudStatus(idx)
	o.publish(Event{Type: EventCloudState, Cloud: &st})
}
