package dispatcher

import (
	"testing"
	"time"

	"releasepipe/internal/config"
)

func TestMemoryConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   MemoryConfig
	}{
		{"zero values", MemoryConfig{}},
		{"negative values", MemoryConfig{BufferSize: -1, Workers: -1, HTTPTimeout: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.in.withDefaults()
			if cfg.BufferSize != 1000 {
				t.Errorf("Expected BufferSize 1000, got %d", cfg.BufferSize)
			}
			if cfg.Workers != 2 {
				t.Errorf("Expected Workers 2, got %d", cfg.Workers)
			}
			if cfg.HTTPTimeout != 10*time.Second {
				t.Errorf("Expected HTTPTimeout 10s, got %v", cfg.HTTPTimeout)
			}
			if cfg.Retry.Attempts != 4 {
				t.Errorf("Expected 4 attempts, got %d", cfg.Retry.Attempts)
			}
		})
	}
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()
	cfg := ConfigFrom(config.CallbackConfig{BufferSize: 50, Workers: 3, Timeout: 2 * time.Second})

	if cfg.BufferSize != 50 || cfg.Workers != 3 || cfg.HTTPTimeout != 2*time.Second {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.Retry.Initial != 100*time.Millisecond {
		t.Errorf("Expected default retry initial, got %v", cfg.Retry.Initial)
	}
}
