package dispatcher

import (
	"time"

	"releasepipe/internal/config"
	"releasepipe/pkg/backoff"
)

// MemoryConfig configures the in-memory dispatcher. Zero values use defaults.
type MemoryConfig struct {
	BufferSize  int            // pending events (default: 1000)
	Workers     int            // concurrent deliveries (default: 2)
	HTTPTimeout time.Duration  // per request (default: 10s)
	Retry       backoff.Policy // default: 4 attempts, 100ms..5s
}

// ConfigFrom maps the callback configuration.
func ConfigFrom(cfg config.CallbackConfig) MemoryConfig {
	return MemoryConfig{
		BufferSize:  cfg.BufferSize,
		Workers:     cfg.Workers,
		HTTPTimeout: cfg.Timeout,
	}.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 4
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = 100 * time.Millisecond
	}
	if c.Retry.Max <= 0 {
		c.Retry.Max = 5 * time.Second
	}
	return c
}
