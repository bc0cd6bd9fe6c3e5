// Package scheduler executes a pipeline graph for one trigger event: it
// expands matrix jobs, runs ready instances on a bounded pool, propagates
// failures downstream as skips and evaluates gates before gated jobs run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/artifact"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/trigger"
	"releasepipe/internal/version"
)

const (
	defaultParallelism = 4
	defaultJobTimeout  = 30 * time.Minute
	storeCloseTimeout  = 30 * time.Second
)

// Reasons recorded on instances that never ran.
const (
	ReasonGateNotSatisfied = "gate not satisfied"
	ReasonRunCancelled     = "run cancelled"
)

// Metrics records run and instance outcomes. Implementations must not block.
type Metrics interface {
	RecordInstance(ctx context.Context, job pipeline.JobID, status pipeline.Status, duration time.Duration)
	RecordRun(ctx context.Context, status pipeline.Status, duration time.Duration)
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	RunStarted(ctx context.Context, runID string, ev trigger.Event, version string)
	InstanceFinished(ctx context.Context, runID string, report InstanceReport)
	RunFinished(ctx context.Context, result *Result)
}

// Config holds scheduler settings. Zero values use defaults.
type Config struct {
	Graph       *pipeline.Graph
	Tasks       map[pipeline.JobID]Task
	Artifacts   artifact.Opener  // default: in-memory store per run
	Parallelism int              // default: 4
	JobTimeout  time.Duration    // per instance, default: 30m
	Metrics     Metrics          // optional
	Notifier    Notifier         // optional
	Logger      *slog.Logger     // default: slog.Default()
	Now         func() time.Time // default: time.Now
}

// Scheduler runs pipelines. It is safe to call Run concurrently.
type Scheduler struct {
	graph       *pipeline.Graph
	tasks       map[pipeline.JobID]Task
	artifacts   artifact.Opener
	parallelism int
	jobTimeout  time.Duration
	metrics     Metrics
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// New validates cfg and creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	for _, id := range cfg.Graph.Order() {
		if cfg.Tasks[id] == nil {
			return nil, fmt.Errorf("no task registered for job %s", id)
		}
	}

	s := &Scheduler{
		graph:       cfg.Graph,
		tasks:       cfg.Tasks,
		artifacts:   cfg.Artifacts,
		parallelism: cfg.Parallelism,
		jobTimeout:  cfg.JobTimeout,
		metrics:     cfg.Metrics,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if s.artifacts == nil {
		s.artifacts = artifact.MemoryOpener(artifact.Options{Logger: cfg.Logger})
	}
	if s.parallelism <= 0 {
		s.parallelism = defaultParallelism
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// completion is sent by a finished task to the coordinator.
type completion struct {
	inst      *pipeline.Instance
	status    pipeline.Status
	err       error
	artifacts []string
}

// run is the coordinator state of a single Run call. Only the coordinator
// goroutine touches it.
type run struct {
	id        string
	event     trigger.Event
	logger    *slog.Logger
	store     artifact.Store
	instances []*pipeline.Instance
	byJob     map[pipeline.JobID][]*pipeline.Instance
	decided   map[pipeline.JobID]bool
	ready     []*pipeline.Instance
	inflight  int
	defect    error
}

// Run executes the graph for ev. The returned result is always non-nil once
// the event is valid. The error is non-nil only for an invalid event, a
// store that cannot be opened, or a pipeline defect (an artifact missing
// despite a declared dependency), in which case the run is cancelled.
func (s *Scheduler) Run(ctx context.Context, runID string, ev trigger.Event) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	store, err := s.artifacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCloseTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			s.logger.Warn("Failed to close artifact store", "runId", runID, "error", err)
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	r := &run{
		id:        runID,
		event:     ev,
		logger:    s.logger.With("runId", runID),
		store:     store,
		instances: s.graph.Instances(),
		byJob:     make(map[pipeline.JobID][]*pipeline.Instance),
		decided:   make(map[pipeline.JobID]bool),
	}
	for _, inst := range r.instances {
		r.byJob[inst.Job] = append(r.byJob[inst.Job], inst)
	}

	started := s.now()
	ver := version.Resolve(ev.Ref)
	r.logger.Info("Pipeline run started", "trigger", ev.String(), "version", ver, "instances", len(r.instances))
	if s.notifier != nil {
		s.notifier.RunStarted(ctx, runID, ev, ver)
	}

	p := pool.New().WithMaxGoroutines(s.parallelism)
	done := make(chan completion, len(r.instances))

	for {
		if runCtx.Err() == nil {
			s.decide(ctx, r)
			s.dispatch(runCtx, r, p, done)
		}
		if r.inflight == 0 {
			break
		}
		c := <-done
		r.inflight--
		s.complete(ctx, r, c)
		if r.defect != nil {
			cancelRun()
		}
	}
	p.Wait()

	cancelled := ctx.Err() != nil || r.defect != nil
	for _, inst := range r.instances {
		if inst.Status == pipeline.StatusPending {
			inst.Reason = ReasonRunCancelled
			s.finish(ctx, r, inst, pipeline.StatusCancelled, nil)
		}
	}

	finished := s.now()
	result := &Result{
		RunID:      runID,
		Event:      ev,
		Version:    ver,
		Status:     aggregate(r.instances),
		Cancelled:  cancelled,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
	}
	for _, inst := range r.instances {
		result.Instances = append(result.Instances, reportOf(inst))
	}
	if refs, err := store.List(context.WithoutCancel(ctx)); err == nil {
		result.Artifacts = refs
	}

	r.logger.Info("Pipeline run finished", "status", result.Status, "duration", result.Duration, "cancelled", cancelled)
	if s.metrics != nil {
		s.metrics.RecordRun(ctx, result.Status, result.Duration)
	}
	if s.notifier != nil {
		s.notifier.RunFinished(ctx, result)
	}

	if r.defect != nil {
		return result, r.defect
	}
	return result, nil
}

// decide settles every job whose dependency instances are all terminal,
// repeating until a pass makes no progress so skips cascade transitively.
func (s *Scheduler) decide(ctx context.Context, r *run) {
	for progressed := true; progressed; {
		progressed = false
		for _, id := range s.graph.Order() {
			if r.decided[id] || !s.dependenciesTerminal(r, id) {
				continue
			}
			r.decided[id] = true
			progressed = true

			job, _ := s.graph.Job(id)
			outcomes := r.outcomes()
			reason := ""
			for _, dep := range job.DependsOn {
				if !outcomes.AllSucceeded(dep) {
					reason = fmt.Sprintf("upstream %s did not succeed", dep)
					break
				}
			}
			if reason == "" && job.Gate != nil && !job.Gate(r.event, outcomes) {
				reason = ReasonGateNotSatisfied
			}

			for _, inst := range r.byJob[id] {
				if reason != "" {
					inst.Reason = reason
					s.finish(ctx, r, inst, pipeline.StatusSkipped, nil)
					continue
				}
				r.ready = append(r.ready, inst)
			}
		}
	}
}

func (s *Scheduler) dependenciesTerminal(r *run, id pipeline.JobID) bool {
	job, _ := s.graph.Job(id)
	for _, dep := range job.DependsOn {
		for _, inst := range r.byJob[dep] {
			if !inst.Status.IsTerminal() {
				return false
			}
		}
	}
	return true
}

func (r *run) outcomes() pipeline.Outcomes {
	o := make(pipeline.Outcomes, len(r.byJob))
	for id, insts := range r.byJob {
		for _, inst := range insts {
			o[id] = append(o[id], inst.Status)
		}
	}
	return o
}

// dispatch starts ready instances while pool slots are free.
func (s *Scheduler) dispatch(runCtx context.Context, r *run, p *pool.Pool, done chan<- completion) {
	for r.inflight < s.parallelism && len(r.ready) > 0 {
		inst := r.ready[0]
		r.ready = r.ready[1:]

		if err := inst.Transition(pipeline.StatusRunning, s.now()); err != nil {
			r.logger.Error("Instance state error", "instance", inst.Key(), "error", err)
			continue
		}
		exec := &Execution{
			RunID:   r.id,
			Event:   r.event,
			Job:     inst.Job,
			Binding: inst.Binding.Clone(),
			Logger:  r.logger.With("job", string(inst.Job), "instance", inst.Key()),
			key:     inst.Key(),
			store:   r.store,
		}
		task := s.tasks[inst.Job]
		r.inflight++
		exec.Logger.Info("Instance started")
		p.Go(func() {
			done <- s.execute(runCtx, inst, exec, task)
		})
	}
}

// execute runs a task under the instance timeout and classifies its outcome.
func (s *Scheduler) execute(runCtx context.Context, inst *pipeline.Instance, exec *Execution, task Task) completion {
	ctx, cancel := context.WithTimeout(runCtx, s.jobTimeout)
	defer cancel()

	err := invoke(ctx, task, exec)
	c := completion{inst: inst, artifacts: exec.produced()}
	switch {
	case err == nil:
		c.status = pipeline.StatusSucceeded
	case errors.Is(err, apperrors.ErrArtifactMissing):
		c.status, c.err = pipeline.StatusFailed, err
	case runCtx.Err() != nil:
		c.status, c.err = pipeline.StatusCancelled, apperrors.Cancelled(exec.Key(), err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.status, c.err = pipeline.StatusFailed, apperrors.Timeout(exec.Key(), fmt.Errorf("exceeded %s: %w", s.jobTimeout, err))
	default:
		c.status, c.err = pipeline.StatusFailed, err
	}
	return c
}

func invoke(ctx context.Context, task Task, exec *Execution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.Internal(exec.Key(), fmt.Errorf("panic: %v", rec))
		}
	}()
	return task.Run(ctx, exec)
}

func (s *Scheduler) complete(ctx context.Context, r *run, c completion) {
	c.inst.Artifacts = c.artifacts
	if errors.Is(c.err, apperrors.ErrArtifactMissing) && r.defect == nil {
		r.defect = fmt.Errorf("pipeline defect in %s: %w", c.inst.Key(), c.err)
		r.logger.Error("Artifact missing despite declared dependency, cancelling run", "instance", c.inst.Key(), "error", c.err)
	}
	s.finish(ctx, r, c.inst, c.status, c.err)
}

// finish moves an instance to a terminal status and reports it.
func (s *Scheduler) finish(ctx context.Context, r *run, inst *pipeline.Instance, status pipeline.Status, err error) {
	if terr := inst.Transition(status, s.now()); terr != nil {
		r.logger.Error("Instance state error", "instance", inst.Key(), "error", terr)
		return
	}
	inst.Err = err

	attrs := []any{"instance", inst.Key(), "status", status}
	switch {
	case err != nil:
		attrs = append(attrs, "error", err, "kind", apperrors.Kind(err))
		r.logger.Warn("Instance finished", attrs...)
	case inst.Reason != "":
		attrs = append(attrs, "reason", inst.Reason)
		r.logger.Info("Instance finished", attrs...)
	default:
		attrs = append(attrs, "duration", inst.Duration())
		r.logger.Info("Instance finished", attrs...)
	}

	if s.metrics != nil {
		s.metrics.RecordInstance(ctx, inst.Job, status, inst.Duration())
	}
	if s.notifier != nil {
		s.notifier.InstanceFinished(ctx, r.id, reportOf(inst))
	}
}
