package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"releasepipe/internal/apperrors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pipeline.Parallelism != 4 {
		t.Errorf("Expected parallelism 4, got %d", cfg.Pipeline.Parallelism)
	}
	if cfg.Pipeline.JobTimeout != 30*time.Minute {
		t.Errorf("Expected job timeout 30m, got %v", cfg.Pipeline.JobTimeout)
	}
	if want := []string{"10", "11", "12"}; !reflect.DeepEqual(cfg.Tests.DatabaseVersions, want) {
		t.Errorf("Expected database versions %v, got %v", want, cfg.Tests.DatabaseVersions)
	}
	if cfg.Tests.DatabasePort != 5432 {
		t.Errorf("Expected database port 5432, got %d", cfg.Tests.DatabasePort)
	}
	if cfg.Image.Retention != 24*time.Hour {
		t.Errorf("Expected image retention 24h, got %v", cfg.Image.Retention)
	}
	if cfg.Artifacts.Backend != "memory" {
		t.Errorf("Expected memory backend, got %q", cfg.Artifacts.Backend)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PIPELINE_PARALLELISM", "8")
	t.Setenv("PIPELINE_JOB_TIMEOUT", "90s")
	t.Setenv("TESTS_DATABASE_VERSIONS", "13,14")
	t.Setenv("IMAGE_RETENTION", "2h")
	t.Setenv("REGISTRY_REPOSITORY", "ghcr.io/acme/app")

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pipeline.Parallelism != 8 {
		t.Errorf("Expected parallelism 8, got %d", cfg.Pipeline.Parallelism)
	}
	if cfg.Pipeline.JobTimeout != 90*time.Second {
		t.Errorf("Expected job timeout 90s, got %v", cfg.Pipeline.JobTimeout)
	}
	if want := []string{"13", "14"}; !reflect.DeepEqual(cfg.Tests.DatabaseVersions, want) {
		t.Errorf("Expected database versions %v, got %v", want, cfg.Tests.DatabaseVersions)
	}
	if cfg.Image.Retention != 2*time.Hour {
		t.Errorf("Expected retention 2h, got %v", cfg.Image.Retention)
	}
	if cfg.Registry.Repository != "ghcr.io/acme/app" {
		t.Errorf("Expected repository override, got %q", cfg.Registry.Repository)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "releasepipe.yaml")
	content := []byte("pipeline:\n  parallelism: 2\nimage:\n  name: api\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	v := New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.Parallelism != 2 {
		t.Errorf("Expected parallelism 2, got %d", cfg.Pipeline.Parallelism)
	}
	if cfg.Image.Name != "api" {
		t.Errorf("Expected image name api, got %q", cfg.Image.Name)
	}
	if cfg.Tests.DatabaseImage != "postgres" {
		t.Errorf("Expected default database image preserved, got %q", cfg.Tests.DatabaseImage)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero parallelism", func(c *Config) { c.Pipeline.Parallelism = 0 }, "pipeline.parallelism"},
		{"zero timeout", func(c *Config) { c.Pipeline.JobTimeout = 0 }, "pipeline.job_timeout"},
		{"no database versions", func(c *Config) { c.Tests.DatabaseVersions = nil }, "tests.database_versions"},
		{"bad port", func(c *Config) { c.Tests.DatabasePort = 70000 }, "tests.database_port"},
		{"unknown probe", func(c *Config) { c.Tests.DatabaseProbe = "http" }, "tests.database_probe"},
		{"no readiness attempts", func(c *Config) { c.Tests.ReadinessAttempts = 0 }, "tests.readiness_attempts"},
		{"no image name", func(c *Config) { c.Image.Name = "" }, "image.name"},
		{"unknown backend", func(c *Config) { c.Artifacts.Backend = "s3" }, "artifacts.backend"},
		{"minio without bucket", func(c *Config) {
			c.Artifacts.Backend = "minio"
			c.Artifacts.Minio.Bucket = ""
		}, "artifacts.minio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("Expected validation error, got %v", err)
			}
			var appErr *apperrors.Error
			if errors.As(err, &appErr) && appErr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, appErr.Field)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should be valid, got %v", err)
	}
}

func TestGetSecretFile(t *testing.T) {
	t.Parallel()

	if got := GetSecretFile(""); got != "" {
		t.Errorf("Expected empty string for empty path, got %q", got)
	}
	if got := GetSecretFile("/nonexistent/path/to/secret"); got != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("registry-token\n"), 0o600); err != nil {
		t.Fatalf("Failed to write secret: %v", err)
	}
	if got := GetSecretFile(path); got != "registry-token" {
		t.Errorf("Expected trimmed secret, got %q", got)
	}
}
