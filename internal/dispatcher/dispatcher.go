// Package dispatcher delivers CloudEvents asynchronously through a bounded
// buffer with retry.
package dispatcher

import (
	"context"
	"errors"

	"releasepipe/pkg/cloudevent"
)

// Errors returned by Dispatch. The event is dropped in both cases.
var (
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	ErrClosed     = errors.New("dispatcher is closed")
)

// Dispatcher queues events for delivery.
type Dispatcher interface {
	// Dispatch queues an event without blocking.
	Dispatch(event *Event) error

	// Stats returns delivery counters.
	Stats() Stats

	// Close stops accepting events and delivers what is queued until the
	// context ends.
	Close(ctx context.Context) error
}

// Event is a payload bound to its destination.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // callback URL
	SigningKey  string // HMAC key, empty = unsigned
}

// Stats holds dispatcher counters.
type Stats struct {
	QueueDepth   int   `json:"queueDepth"`
	Queued       int64 `json:"queued"`
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`  // gave up after retries or on a 4xx
	Dropped      int64 `json:"dropped"` // buffer full or closed
	RetriesTotal int64 `json:"retriesTotal"`
}
