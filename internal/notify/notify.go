// Package notify publishes run lifecycle and coverage as CloudEvents through
// a dispatcher.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"releasepipe/internal/dispatcher"
	"releasepipe/internal/scheduler"
	"releasepipe/internal/stage"
	"releasepipe/internal/trigger"
	"releasepipe/pkg/cloudevent"
)

// Config configures a Notifier.
type Config struct {
	URL        string // callback destination
	SigningKey string // HMAC key, empty = unsigned
	Source     string // default DefaultSource
	Logger     *slog.Logger
}

// Notifier queues events for the callback URL. It never blocks the run: a
// full dispatcher buffer drops the event with a warning.
type Notifier struct {
	dispatcher dispatcher.Dispatcher
	url        string
	key        string
	source     string
	logger     *slog.Logger
}

// New creates a Notifier.
func New(d dispatcher.Dispatcher, cfg Config) (*Notifier, error) {
	if d == nil {
		return nil, errors.New("notify: dispatcher is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("notify: callback URL is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		dispatcher: d,
		url:        cfg.URL,
		key:        cfg.SigningKey,
		source:     cfg.Source,
		logger:     logger.With("component", "notify"),
	}, nil
}

// RunStarted implements scheduler.Notifier.
func (n *Notifier) RunStarted(_ context.Context, runID string, ev trigger.Event, version string) {
	n.send(NewEventBuilder(n.source, runID).RunStart(ev, version))
}

// InstanceFinished implements scheduler.Notifier.
func (n *Notifier) InstanceFinished(_ context.Context, runID string, report scheduler.InstanceReport) {
	n.send(NewEventBuilder(n.source, runID).InstanceFinish(report))
}

// RunFinished implements scheduler.Notifier.
func (n *Notifier) RunFinished(_ context.Context, res *scheduler.Result) {
	n.send(NewEventBuilder(n.source, res.RunID).RunFinish(res))
}

// Coverage implements stage.CoverageSink. The only error is a dropped event.
func (n *Notifier) Coverage(_ context.Context, report stage.CoverageReport) error {
	return n.send(NewEventBuilder(n.source, report.RunID).Coverage(report))
}

func (n *Notifier) send(event *cloudevent.CloudEvent) error {
	err := n.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     event,
		Destination: n.url,
		SigningKey:  n.key,
	})
	if err != nil {
		n.logger.Warn("Notification not queued", "type", event.Type, "runId", event.Subject, "error", err)
	}
	return err
}

var (
	_ scheduler.Notifier = (*Notifier)(nil)
	_ stage.CoverageSink = (*Notifier)(nil)
)
