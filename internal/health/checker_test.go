package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	if got := NewChecker(nil).Liveness(context.Background()); !got.IsHealthy() {
		t.Errorf("Expected healthy liveness, got %s", got.Status)
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()
	ok := ReadyFunc(func(context.Context) error { return nil })
	down := ReadyFunc(func(context.Context) error { return errors.New("daemon unreachable") })

	tests := []struct {
		name    string
		checks  map[string]ReadinessChecker
		want    Status
		failing string
	}{
		{"no dependencies", nil, StatusUnhealthy, "dependencies"},
		{"all healthy", map[string]ReadinessChecker{"docker": ok, "artifacts": ok}, StatusHealthy, ""},
		{"one failing", map[string]ReadinessChecker{"docker": down, "artifacts": ok}, StatusUnhealthy, "docker"},
		{"nil checker", map[string]ReadinessChecker{"docker": nil}, StatusUnhealthy, "docker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := NewChecker(tt.checks).Readiness(context.Background())
			if resp.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, resp.Status)
			}
			if tt.failing != "" && resp.Checks[tt.failing].Status != StatusUnhealthy {
				t.Errorf("Expected %s check unhealthy, got %+v", tt.failing, resp.Checks)
			}
		})
	}
}

func TestChecker_ReadinessCached(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := NewChecker(map[string]ReadinessChecker{
		"docker": ReadyFunc(func(context.Context) error {
			calls.Add(1)
			return nil
		}),
	})
	c.ttl = time.Hour

	c.Readiness(context.Background())
	c.Readiness(context.Background())
	if calls.Load() != 1 {
		t.Errorf("Expected cached result, got %d calls", calls.Load())
	}
}

func TestChecker_SetShuttingDown(t *testing.T) {
	t.Parallel()
	c := NewChecker(map[string]ReadinessChecker{
		"docker": ReadyFunc(func(context.Context) error { return nil }),
	})

	if !c.Readiness(context.Background()).IsHealthy() {
		t.Fatal("Expected healthy before shutdown")
	}
	c.SetShuttingDown()

	resp := c.Readiness(context.Background())
	if resp.IsHealthy() {
		t.Error("Expected unhealthy after shutdown")
	}
	if _, ok := resp.Checks["shutdown"]; !ok {
		t.Error("Expected shutdown check")
	}
}
