// Package testutil holds polling helpers for tests of asynchronous code:
// runs finishing, callbacks arriving, stores sweeping.
package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

// WaitOptions configures WaitFor.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	Message  string
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

// WithMessage names what is being waited for in the failure message.
func WithMessage(msg string) WaitOption {
	return func(o *WaitOptions) {
		o.Message = msg
	}
}

func defaultOptions() WaitOptions {
	return WaitOptions{
		Timeout:  5 * time.Second,
		Interval: 10 * time.Millisecond,
		Message:  "condition",
	}
}

// WaitFor polls condition until it returns true or the timeout passes. The
// condition is checked once more at the deadline.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if condition() {
		return true
	}

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if condition() {
				return true
			}
		case <-deadline.C:
			return condition()
		}
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !WaitFor(tb, condition, opts...) {
		tb.Fatalf("timed out after %s waiting for %s", o.Timeout, o.Message)
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
