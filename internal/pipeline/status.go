package pipeline

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a job instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusSkipped, StatusCancelled},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCancelled},
}

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// IsFailure reports whether the status counts against the run.
// Cancelled instances are treated as failed.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Instance is one expansion of a job for a specific matrix binding.
type Instance struct {
	Job        JobID
	Binding    Binding
	Status     Status
	Reason     string
	Err        error
	Artifacts  []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewInstance returns a pending instance.
func NewInstance(job JobID, b Binding) *Instance {
	return &Instance{Job: job, Binding: b.Clone(), Status: StatusPending}
}

// Key identifies the instance within a run, e.g. "tests[database_version=10]".
func (i *Instance) Key() string {
	if k := i.Binding.Key(); k != "" {
		return fmt.Sprintf("%s[%s]", i.Job, k)
	}
	return string(i.Job)
}

// Transition moves the instance to next, stamping start and finish times.
func (i *Instance) Transition(next Status, at time.Time) error {
	if !i.Status.CanTransition(next) {
		return fmt.Errorf("instance %s: invalid transition %s -> %s", i.Key(), i.Status, next)
	}
	if next == StatusRunning {
		i.StartedAt = at
	}
	if next.IsTerminal() {
		i.FinishedAt = at
	}
	i.Status = next
	return nil
}

// Duration returns how long the instance ran, zero if it never started.
func (i *Instance) Duration() time.Duration {
	if i.StartedAt.IsZero() || i.FinishedAt.IsZero() {
		return 0
	}
	return i.FinishedAt.Sub(i.StartedAt)
}
