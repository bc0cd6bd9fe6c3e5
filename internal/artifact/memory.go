package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"releasepipe/internal/apperrors"
)

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	logger *slog.Logger
	now    func() time.Time
	ledger *ledger

	mu     sync.Mutex
	blobs  map[string][]byte
	closed bool

	cancelMaintenance context.CancelFunc
	maintenanceDone   chan struct{}
}

// NewMemoryStore creates a memory store and starts its expiry sweep.
func NewMemoryStore(opts Options) *MemoryStore {
	opts = opts.withDefaults()
	s := &MemoryStore{
		logger:          opts.Logger.With("component", "artifacts", "backend", "memory"),
		now:             opts.Now,
		ledger:          newLedger(),
		blobs:           make(map[string][]byte),
		maintenanceDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMaintenance = cancel
	go runMaintenance(ctx, opts.MaintenanceInterval, s.sweep, s.maintenanceDone)
	return s
}

// MemoryOpener opens a fresh memory store per run.
func MemoryOpener(opts Options) Opener {
	return func(_ context.Context, runID string) (Store, error) {
		runOpts := opts
		if runOpts.Logger != nil {
			runOpts.Logger = runOpts.Logger.With("runId", runID)
		}
		return NewMemoryStore(runOpts), nil
	}
}

// Put stores a copy of payload under name, replacing any previous value.
func (s *MemoryStore) Put(ctx context.Context, name, producer string, payload []byte, retention time.Duration) (Ref, error) {
	if err := validatePut(name, producer, retention); err != nil {
		return Ref{}, err
	}
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}

	ref := newRef(name, producer, payload, retention, s.now())
	blob := make([]byte, len(payload))
	copy(blob, payload)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Ref{}, apperrors.Internal("artifact.put", ErrClosed)
	}
	prev, replaced := s.ledger.record(ref)
	s.blobs[name] = blob
	s.mu.Unlock()

	if replaced && prev.Producer != producer {
		s.logger.Warn("Artifact replaced by a different producer",
			"artifact", name, "previous", prev.Producer, "producer", producer)
	}
	s.logger.Debug("Artifact stored", "artifact", name, "producer", producer, "size", ref.Size, "expiresAt", ref.ExpiresAt)
	return ref, nil
}

// Get returns a copy of the payload stored under name.
func (s *MemoryStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledger.lookup(name, s.now()); !ok {
		return nil, apperrors.NotFound("artifact", name)
	}
	blob, ok := s.blobs[name]
	if !ok {
		return nil, apperrors.Internal("artifact.get", fmt.Errorf("ledger entry %s has no payload", name))
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// List returns the live artifacts sorted by name.
func (s *MemoryStore) List(ctx context.Context) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ledger.list(s.now()), nil
}

// Close stops the sweep and discards every artifact.
func (s *MemoryStore) Close(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelMaintenance()
	<-s.maintenanceDone

	s.mu.Lock()
	removed := s.ledger.drain()
	s.blobs = make(map[string][]byte)
	s.mu.Unlock()

	s.logger.Debug("Artifact store closed", "removed", len(removed))
	return nil
}

func (s *MemoryStore) sweep(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, ref := range s.ledger.expired(s.now()) {
		if s.ledger.remove(ref) {
			delete(s.blobs, ref.Name)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Expired artifacts removed", "count", removed)
	}
}

var _ Store = (*MemoryStore)(nil)
