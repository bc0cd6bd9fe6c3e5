package artifact

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, clock *fakeClock, interval time.Duration) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(Options{Now: clock.Now, MaintenanceInterval: interval})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, newFakeClock(), time.Hour)

	payload := []byte("image bytes")
	ref, err := s.Put(ctx, "image-latest.tar", "docker", payload, 24*time.Hour)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ref.Size != int64(len(payload)) {
		t.Errorf("Expected size %d, got %d", len(payload), ref.Size)
	}
	if !strings.HasPrefix(ref.Digest, "sha256:") {
		t.Errorf("Expected sha256 digest, got %q", ref.Digest)
	}
	if ref.ExpiresAt.Sub(ref.CreatedAt) != 24*time.Hour {
		t.Errorf("Expected 24h retention window, got %v", ref.ExpiresAt.Sub(ref.CreatedAt))
	}

	got, err := s.Get(ctx, "image-latest.tar")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get() = %q, want %q", got, payload)
	}
}

func TestMemoryStore_PayloadIsCopied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, newFakeClock(), time.Hour)

	payload := []byte("abc")
	if _, err := s.Put(ctx, "a", "docker", payload, time.Hour); err != nil {
		t.Fatal(err)
	}
	payload[0] = 'x'

	got, _ := s.Get(ctx, "a")
	if string(got) != "abc" {
		t.Errorf("Stored payload changed with caller's slice: %q", got)
	}
	got[1] = 'y'
	again, _ := s.Get(ctx, "a")
	if string(again) != "abc" {
		t.Errorf("Stored payload changed through returned slice: %q", again)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, newFakeClock(), time.Hour)

	_, err := s.Get(context.Background(), "image-1.0.tar")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ExpiredIsNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, clock, time.Hour)

	if _, err := s.Put(ctx, "a", "docker", []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)

	if _, err := s.Get(ctx, "a"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected expired artifact to be not found, got %v", err)
	}
	refs, _ := s.List(ctx)
	if len(refs) != 0 {
		t.Errorf("Expected no live artifacts, got %v", refs)
	}
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, clock, 5*time.Millisecond)

	if _, err := s.Put(ctx, "short", "docker", []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "long", "docker", []byte("y"), time.Hour); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)

	testutil.MustWaitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.blobs["short"]
		return !ok
	}, testutil.WithTimeout(2*time.Second), testutil.WithInterval(5*time.Millisecond))

	if _, err := s.Get(ctx, "long"); err != nil {
		t.Errorf("Unexpired artifact should survive the sweep, got %v", err)
	}
}

func TestMemoryStore_ReplaceByName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))
	s := NewMemoryStore(Options{Logger: logger, MaintenanceInterval: time.Hour})
	defer s.Close(ctx)

	if _, err := s.Put(ctx, "a", "docker", []byte("one"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "a", "docker", []byte("two"), time.Hour); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	if strings.Contains(buf.String(), "different producer") {
		t.Error("Same producer replace should not warn")
	}
	mu.Unlock()

	if _, err := s.Put(ctx, "a", "tests", []byte("three"), time.Hour); err != nil {
		t.Fatalf("Replace by another producer must not be rejected: %v", err)
	}
	got, _ := s.Get(ctx, "a")
	if string(got) != "three" {
		t.Errorf("Expected latest value, got %q", got)
	}
	mu.Lock()
	if !strings.Contains(buf.String(), "different producer") {
		t.Errorf("Expected warning for different producer, log: %s", buf.String())
	}
	mu.Unlock()
}

func TestMemoryStore_CloseRemovesEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(Options{MaintenanceInterval: time.Hour})

	if _, err := s.Put(ctx, "a", "docker", []byte("x"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected artifact gone after Close, got %v", err)
	}
	if _, err := s.Put(ctx, "b", "docker", []byte("x"), time.Hour); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestMemoryStore_PutValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, newFakeClock(), time.Hour)

	tests := []struct {
		name      string
		artifact  string
		producer  string
		retention time.Duration
	}{
		{"empty name", "", "docker", time.Hour},
		{"nested name", "runs/image.tar", "docker", time.Hour},
		{"traversal", "..", "docker", time.Hour},
		{"no producer", "image.tar", "", time.Hour},
		{"no retention", "image.tar", "docker", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Put(context.Background(), tt.artifact, tt.producer, []byte("x"), tt.retention)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestMemoryStore_ListSorted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, newFakeClock(), time.Hour)

	for _, name := range []string{"c", "a", "b"} {
		if _, err := s.Put(ctx, name, "docker", []byte(name), time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	refs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range refs {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "a,b,c" {
		t.Errorf("List() order = %v", names)
	}
}

func TestMemoryOpener_IsolatesRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	open := MemoryOpener(Options{MaintenanceInterval: time.Hour})

	first, _ := open(ctx, "run-1")
	second, _ := open(ctx, "run-2")
	defer first.Close(ctx)
	defer second.Close(ctx)

	if _, err := first.Put(ctx, "a", "docker", []byte("x"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Get(ctx, "a"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Artifacts must be scoped to a run, got %v", err)
	}
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
