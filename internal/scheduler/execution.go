package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/artifact"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/trigger"
)

// Task is the body of a job. It runs once per instance.
type Task interface {
	Run(ctx context.Context, exec *Execution) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, exec *Execution) error

// Run calls f(ctx, exec).
func (f TaskFunc) Run(ctx context.Context, exec *Execution) error {
	return f(ctx, exec)
}

// Execution is what a task sees of its run: the trigger, its own matrix
// binding and the run's artifact store.
type Execution struct {
	RunID   string
	Event   trigger.Event
	Job     pipeline.JobID
	Binding pipeline.Binding
	Logger  *slog.Logger

	key   string
	store artifact.Store

	mu        sync.Mutex
	artifacts []string
}

// Key identifies the instance, e.g. "tests[database_version=10]".
func (e *Execution) Key() string {
	return e.key
}

// PutArtifact stores payload under name with this instance as producer.
func (e *Execution) PutArtifact(ctx context.Context, name string, payload []byte, retention time.Duration) (artifact.Ref, error) {
	ref, err := e.store.Put(ctx, name, e.key, payload, retention)
	if err != nil {
		return artifact.Ref{}, err
	}
	e.mu.Lock()
	e.artifacts = append(e.artifacts, name)
	e.mu.Unlock()
	return ref, nil
}

// GetArtifact reads an artifact written by an upstream job. A missing
// artifact means the graph let this instance run before its producer, so it
// is reported as apperrors.ErrArtifactMissing.
func (e *Execution) GetArtifact(ctx context.Context, name string) ([]byte, error) {
	data, err := e.store.Get(ctx, name)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ArtifactMissing(name, err)
	}
	return data, err
}

func (e *Execution) produced() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.artifacts...)
}

// NewExecution builds an execution outside a scheduler run, for running a
// single task directly against a store.
func NewExecution(runID string, ev trigger.Event, job pipeline.JobID, binding pipeline.Binding, store artifact.Store, logger *slog.Logger) *Execution {
	if logger == nil {
		logger = slog.Default()
	}
	inst := pipeline.NewInstance(job, binding)
	return &Execution{
		RunID:   runID,
		Event:   ev,
		Job:     job,
		Binding: inst.Binding,
		Logger:  logger,
		key:     inst.Key(),
		store:   store,
	}
}
