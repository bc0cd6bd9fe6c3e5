package runs

import (
	"time"

	"releasepipe/internal/scheduler"
	"releasepipe/internal/trigger"
)

// State is the lifecycle of a run as seen through the API.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the run has finished.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Request triggers a run.
type Request struct {
	Event string `json:"event"`
	Ref   string `json:"ref"`
	SHA   string `json:"sha"`
}

// Response acknowledges an accepted run.
type Response struct {
	ID    string `json:"id"`
	State State  `json:"status"`
}

// Run is a snapshot of one run.
type Run struct {
	ID         string            `json:"id"`
	State      State             `json:"status"`
	Trigger    trigger.Event     `json:"trigger"`
	Version    string            `json:"version"`
	CreatedAt  time.Time         `json:"createdAt"`
	FinishedAt time.Time         `json:"finishedAt,omitzero"`
	Error      string            `json:"error,omitempty"`
	Result     *scheduler.Result `json:"result,omitempty"`
}

// ListResponse holds run snapshots, newest first.
type ListResponse struct {
	Runs []Run `json:"runs"`
}
