package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"releasepipe/internal/config"
)

func execute(t *testing.T, level *slog.LevelVar, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(level)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"resolve", "refs/tags/v2.1.0"}, "2.1.0"},
		{[]string{"resolve", "refs/heads/develop"}, "latest"},
		{[]string{"resolve", "refs/heads/main"}, "main"},
		{[]string{"resolve", "--artifact", "refs/heads/develop"}, "image-latest.tar"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			t.Parallel()
			out, err := execute(t, nil, tt.args...)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveCommand_RequiresRef(t *testing.T) {
	t.Parallel()

	if _, err := execute(t, nil, "resolve"); err == nil {
		t.Error("expected error without a ref")
	}
}

func TestConfigFileAndLogLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "releasepipe.yaml")
	content := "log:\n  level: debug\npipeline:\n  parallelism: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	level := new(slog.LevelVar)
	if _, err := execute(t, level, "--config", path, "resolve", "refs/heads/main"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	level = new(slog.LevelVar)
	if _, err := execute(t, level, "--config", path, "--log-level", "error", "resolve", "refs/heads/main"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if level.Level() != slog.LevelError {
		t.Errorf("flag should override file: level = %v, want error", level.Level())
	}
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "resolve", "refs/heads/main"}},
		{"bad log level", []string{"--log-level", "loud", "resolve", "refs/heads/main"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := execute(t, nil, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunCommand_ValidatesBeforeDocker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"missing sha", []string{"run", "--ref", "refs/heads/main"}},
		{"unknown event", []string{"run", "--event", "release", "--ref", "refs/heads/main", "--sha", "abc"}},
		{"tag push on branch", []string{"run", "--event", "tag_push", "--ref", "refs/heads/main", "--sha", "abc"}},
		{"bad output", []string{"run", "--ref", "refs/heads/main", "--sha", "abc", "--output", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := execute(t, nil, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStageConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Pipeline.ToolchainImage = "toolchain:1"
	cfg.Tests.ReadinessAttempts = 7
	cfg.Tests.ReadinessInitial = 200 * time.Millisecond
	cfg.Tests.ReadinessMax = 3 * time.Second
	cfg.Registry.Repository = "registry.example.com/app"

	sc := stageConfig(cfg)

	if sc.Tests.Image != "toolchain:1" || sc.Docs.Image != "toolchain:1" {
		t.Errorf("toolchain image not propagated: tests=%q docs=%q", sc.Tests.Image, sc.Docs.Image)
	}
	if sc.Tests.Readiness.Attempts != 7 || sc.Tests.Readiness.Initial != 200*time.Millisecond || sc.Tests.Readiness.Max != 3*time.Second {
		t.Errorf("unexpected readiness policy: %+v", sc.Tests.Readiness)
	}
	if sc.Publish.ImageName != cfg.Image.Name || sc.Docker.Name != cfg.Image.Name {
		t.Errorf("publish must load the image the docker job built: %q vs %q", sc.Publish.ImageName, sc.Docker.Name)
	}
	if sc.Publish.Repository != "registry.example.com/app" {
		t.Errorf("Repository = %q", sc.Publish.Repository)
	}
}

func TestProberFor(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "postgres", "tcp"} {
		p, err := proberFor(name)
		if err != nil || p == nil {
			t.Errorf("proberFor(%q) = %v, %v", name, p, err)
		}
	}
	if _, err := proberFor("mysql"); err == nil {
		t.Error("expected error for unknown probe")
	}
}

func TestOpenerFor(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	if _, err := openerFor(t.Context(), config.ArtifactsConfig{Backend: "memory"}, logger, nil); err != nil {
		t.Errorf("memory backend: %v", err)
	}
	if _, err := openerFor(t.Context(), config.ArtifactsConfig{Backend: "gcs"}, logger, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := openerFor(t.Context(), config.ArtifactsConfig{Backend: "minio"}, logger, nil); err == nil {
		t.Error("expected error for minio without endpoint")
	}
}
