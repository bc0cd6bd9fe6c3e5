// Package runs tracks pipeline runs started through the API: it assigns
// IDs, runs them in the background, supports cancellation and forgets
// finished runs after a retention period.
package runs

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/scheduler"
	"releasepipe/internal/trigger"
	"releasepipe/internal/version"
)

// Runner executes one run. *scheduler.Scheduler implements it.
type Runner interface {
	Run(ctx context.Context, runID string, ev trigger.Event) (*scheduler.Result, error)
}

// Metrics tracks runs in progress. Optional.
type Metrics interface {
	RecordRunStarted(ctx context.Context, kind string)
	RecordRunEnded(ctx context.Context, kind string)
}

// Options configures a Service. Zero values use defaults.
type Options struct {
	Retention           time.Duration // how long finished runs stay queryable (default: 1h)
	MaintenanceInterval time.Duration // default: 1m
	Metrics             Metrics
	Logger              *slog.Logger
	Now                 func() time.Time
}

type record struct {
	run    Run
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns the runs of one process.
type Service struct {
	runner    Runner
	metrics   Metrics
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	runs   map[string]*record
	closed bool
	wg     sync.WaitGroup

	baseCtx         context.Context
	cancelAll       context.CancelFunc
	maintenanceDone chan struct{}
}

// NewService starts the retention sweep. Call Close to stop it.
func NewService(runner Runner, opts Options) *Service {
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	baseCtx, cancelAll := context.WithCancel(context.Background())
	s := &Service{
		runner:          runner,
		metrics:         opts.Metrics,
		logger:          opts.Logger.With("component", "runs"),
		retention:       opts.Retention,
		now:             opts.Now,
		runs:            make(map[string]*record),
		baseCtx:         baseCtx,
		cancelAll:       cancelAll,
		maintenanceDone: make(chan struct{}),
	}
	go s.runMaintenance(baseCtx, opts.MaintenanceInterval)
	return s
}

// Create validates the trigger and starts a run in the background.
func (s *Service) Create(ctx context.Context, req *Request) (*Response, error) {
	ev, err := trigger.Parse(req.Event, req.Ref, req.SHA)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(s.baseCtx)
	rec := &record{
		run: Run{
			ID:        id,
			State:     StateQueued,
			Trigger:   ev,
			Version:   version.Resolve(ev.Ref),
			CreatedAt: s.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, apperrors.Conflict("run", id, "service is shutting down")
	}
	s.runs[id] = rec
	s.wg.Add(1)
	s.mu.Unlock()

	logger := s.logger.With("runId", id, "trigger", ev.String())
	logger.Info("Run accepted")

	go s.execute(runCtx, rec, logger)

	return &Response{ID: id, State: StateQueued}, nil
}

func (s *Service) execute(ctx context.Context, rec *record, logger *slog.Logger) {
	defer s.wg.Done()
	defer close(rec.done)
	defer rec.cancel()

	id, ev := rec.run.ID, rec.run.Trigger
	s.update(id, func(r *Run) { r.State = StateRunning })
	if s.metrics != nil {
		s.metrics.RecordRunStarted(ctx, string(ev.Kind))
		defer s.metrics.RecordRunEnded(context.WithoutCancel(ctx), string(ev.Kind))
	}

	res, err := s.runner.Run(ctx, id, ev)

	s.update(id, func(r *Run) {
		r.Result = res
		r.FinishedAt = s.now()
		r.State = stateOf(res, err)
		if err != nil {
			r.Error = err.Error()
		}
	})

	if err != nil {
		logger.Error("Run failed", "error", err, "errorKind", apperrors.Kind(err))
		return
	}
	logger.Info("Run finished", "status", res.Status, "duration", res.Duration)
}

func stateOf(res *scheduler.Result, err error) State {
	switch {
	case res == nil:
		return StateFailed
	case res.Cancelled && err == nil:
		return StateCancelled
	case res.Status == pipeline.StatusSucceeded && err == nil:
		return StateSucceeded
	default:
		return StateFailed
	}
}

func (s *Service) update(id string, fn func(*Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.runs[id]; ok {
		fn(&rec.run)
	}
}

// Get returns a snapshot of a run.
func (s *Service) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, apperrors.NotFound("run", id)
	}
	run := rec.run
	return &run, nil
}

// List returns every tracked run, newest first.
func (s *Service) List(_ context.Context) (*ListResponse, error) {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec.run)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return &ListResponse{Runs: out}, nil
}

// Cancel stops a run in progress. Pending instances are cancelled; running
// instances see their context cancelled.
func (s *Service) Cancel(_ context.Context, id string) error {
	s.mu.RLock()
	rec, ok := s.runs[id]
	var state State
	if ok {
		state = rec.run.State
	}
	s.mu.RUnlock()

	if !ok {
		return apperrors.NotFound("run", id)
	}
	if state.IsTerminal() {
		return apperrors.Conflict("run", id, "run "+id+" already finished")
	}
	rec.cancel()
	s.logger.Info("Run cancellation requested", "runId", id)
	return nil
}

// Wait blocks until the run finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	rec, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("run", id)
	}

	select {
	case <-rec.done:
		return s.Get(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close rejects new runs, cancels the ones in progress and waits for them
// to wind down until ctx ends.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelAll()
	<-s.maintenanceDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("runs still in progress at shutdown"), ctx.Err())
	}
}

func (s *Service) runMaintenance(ctx context.Context, interval time.Duration) {
	defer close(s.maintenanceDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep forgets finished runs older than the retention period.
func (s *Service) sweep() {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	var removed int
	for id, rec := range s.runs {
		if rec.run.State.IsTerminal() && rec.run.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Expired finished runs", "count", removed)
	}
}
