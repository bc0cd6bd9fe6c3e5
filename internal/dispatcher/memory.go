package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"releasepipe/pkg/cloudevent"
)

const deliveryTimeout = 30 * time.Second

// MetricsRecorder records delivery outcomes. Optional.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, duration time.Duration)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
}

// MemoryDispatcher queues events in a bounded channel drained by a fixed
// set of workers. Events that do not fit are dropped.
type MemoryDispatcher struct {
	queue   chan *Event
	sender  *cloudevent.Sender
	config  MemoryConfig
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	// mu guards closed against concurrent Dispatch so no send happens on a
	// closed queue.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

// NewMemory starts the workers.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder, logger *slog.Logger) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	d := &MemoryDispatcher{
		queue:   make(chan *Event, cfg.BufferSize),
		sender:  cloudevent.NewSender(cfg.HTTPTimeout),
		config:  cfg,
		logger:  logger.With("component", "dispatcher"),
		metrics: metrics,
		stop:    make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// Dispatch queues an event for async delivery.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, "closed")
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	return Stats{
		QueueDepth:   len(d.queue),
		Queued:       d.queued.Load(),
		Delivered:    d.delivered.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		RetriesTotal: d.retriesTotal.Load(),
	}
}

// Close drains the queue. When ctx ends first, in-flight retries are
// abandoned and the remaining events are lost.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		close(d.stop)
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		select {
		case <-d.stop:
			d.drop(event, "shutdown")
			continue
		default:
		}
		d.deliver(event)
	}
}

func (d *MemoryDispatcher) deliver(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	if err := d.sendWithRetry(ctx, event); err != nil {
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed", "destination", extractHost(event.Destination), "type", event.Payload.Type, "error", err)
		return
	}

	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start))
	}
}

func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, event *Event) error {
	var lastErr error
	for attempt := 1; attempt <= d.config.Retry.Attempts; attempt++ {
		if attempt > 1 {
			d.retriesTotal.Add(1)
			if err := d.config.Retry.Wait(ctx, attempt-1); err != nil {
				return err
			}
		}

		lastErr = d.sender.Send(ctx, event.Destination, event.Payload, event.SigningKey)
		if lastErr == nil || cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (d *MemoryDispatcher) drop(event *Event, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Event dropped", "reason", reason, "destination", extractHost(event.Destination), "type", event.Payload.Type)
}

// extractHost keeps credentials and paths in callback URLs out of logs.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
