// Package backoff provides bounded exponential retry policies.
package backoff

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrExhausted is returned by Retry when every attempt failed.
var ErrExhausted = errors.New("retry budget exhausted")

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Policy bounds a retry loop by attempt count.
type Policy struct {
	Config
	Attempts int // default: 1
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Wait sleeps for the delay that follows the given attempt, or returns early
// with the context error.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(Exponential(attempt, &p.Config))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn until it returns nil, the attempts run out, or ctx ends.
// On exhaustion the returned error wraps both ErrExhausted and the last failure.
func (p Policy) Retry(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var last error
	n := p.attempts()
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if attempt == n {
			break
		}
		if err := p.Wait(ctx, attempt); err != nil {
			return err
		}
	}
	return errors.Join(ErrExhausted, last)
}
