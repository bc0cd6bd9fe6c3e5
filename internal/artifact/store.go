// Package artifact stores the named byte blobs that jobs of a single run hand
// to each other, each with an explicit retention window.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"
)

// ErrClosed is returned by operations on a store that was already closed.
var ErrClosed = errors.New("artifact store closed")

// Ref describes a stored artifact. The payload itself stays in the store.
type Ref struct {
	Name      string        `json:"name" yaml:"name"`
	Producer  string        `json:"producer" yaml:"producer"`
	Size      int64         `json:"size" yaml:"size"`
	Digest    string        `json:"digest" yaml:"digest"`
	Retention time.Duration `json:"retention" yaml:"retention"`
	CreatedAt time.Time     `json:"createdAt" yaml:"createdAt"`
	ExpiresAt time.Time     `json:"expiresAt" yaml:"expiresAt"`
}

// Expired reports whether the artifact's retention window has elapsed.
func (r Ref) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is a run-scoped artifact store.
//
// Get returns an apperrors.ErrNotFound error for names that were never put or
// whose retention has elapsed. Close removes everything the store holds.
type Store interface {
	Put(ctx context.Context, name, producer string, payload []byte, retention time.Duration) (Ref, error)
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]Ref, error)
	Close(ctx context.Context) error
}

// Opener creates the store for one run.
type Opener func(ctx context.Context, runID string) (Store, error)

// Options shared by every backend. Zero values use defaults.
type Options struct {
	Logger              *slog.Logger
	Now                 func() time.Time // default: time.Now
	MaintenanceInterval time.Duration    // default: 1m
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = time.Minute
	}
	return o
}

func newRef(name, producer string, payload []byte, retention time.Duration, now time.Time) Ref {
	sum := sha256.Sum256(payload)
	return Ref{
		Name:      name,
		Producer:  producer,
		Size:      int64(len(payload)),
		Digest:    "sha256:" + hex.EncodeToString(sum[:]),
		Retention: retention,
		CreatedAt: now,
		ExpiresAt: now.Add(retention),
	}
}

// runMaintenance sweeps expired artifacts until ctx is cancelled.
func runMaintenance(ctx context.Context, interval time.Duration, sweep func(context.Context), done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}
