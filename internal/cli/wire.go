package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"

	"releasepipe/internal/artifact"
	"releasepipe/internal/config"
	"releasepipe/internal/credentials"
	"releasepipe/internal/dispatcher"
	"releasepipe/internal/docker"
	"releasepipe/internal/health"
	"releasepipe/internal/notify"
	"releasepipe/internal/observability"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/scheduler"
	"releasepipe/internal/stage"
	"releasepipe/pkg/backoff"
)

// components is everything a run needs, built from the configuration.
type components struct {
	scheduler  *scheduler.Scheduler
	docker     *docker.Client
	dispatcher *dispatcher.MemoryDispatcher // nil without a callback URL
	readiness  map[string]health.ReadinessChecker
}

func (c *components) close(ctx context.Context, logger *slog.Logger) {
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(ctx); err != nil {
			logger.Warn("Dispatcher shutdown error", "error", err)
		}
		stats := c.dispatcher.Stats()
		logger.Info("Dispatcher stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}
	if c.docker != nil {
		if err := c.docker.Close(); err != nil {
			logger.Warn("Docker client shutdown error", "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*components, error) {
	graph, err := pipeline.Release(cfg.Tests.DatabaseVersions)
	if err != nil {
		return nil, err
	}

	prober, err := proberFor(cfg.Tests.DatabaseProbe)
	if err != nil {
		return nil, err
	}
	dockerClient, err := docker.New(docker.Config{
		ServiceHost: cfg.Tests.ServiceHost,
		SourceDir:   cfg.Pipeline.Workspace,
		Prober:      prober,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	c := &components{
		docker:    dockerClient,
		readiness: map[string]health.ReadinessChecker{"docker": dockerClient},
	}

	opener, err := openerFor(ctx, cfg.Artifacts, logger, c)
	if err != nil {
		c.close(ctx, logger)
		return nil, err
	}

	var coverage stage.CoverageSink
	var notifier scheduler.Notifier
	if cfg.Callback.URL != "" {
		var recorder dispatcher.MetricsRecorder
		if metrics != nil {
			recorder = metrics
		}
		c.dispatcher = dispatcher.NewMemory(dispatcher.ConfigFrom(cfg.Callback), recorder, logger)
		n, err := notify.New(c.dispatcher, notify.Config{
			URL:        cfg.Callback.URL,
			SigningKey: config.GetSecretFile(cfg.Callback.KeyFile),
			Logger:     logger,
		})
		if err != nil {
			c.close(ctx, logger)
			return nil, err
		}
		notifier, coverage = n, n
		logger.Info("Callback notifications enabled", "url", cfg.Callback.URL)
	}

	tasks := stage.Tasks(stageConfig(cfg), stage.Deps{
		Services:   dockerClient,
		Workspaces: dockerClient,
		Builder:    dockerClient,
		Registry:   dockerClient,
		Credentials: credentials.FileProvider{
			Server:       cfg.Registry.Server,
			UsernameFile: cfg.Registry.UsernameFile,
			PasswordFile: cfg.Registry.PasswordFile,
		},
		Coverage: coverage,
	})

	schedCfg := scheduler.Config{
		Graph:       graph,
		Tasks:       tasks,
		Artifacts:   opener,
		Parallelism: cfg.Pipeline.Parallelism,
		JobTimeout:  cfg.Pipeline.JobTimeout,
		Notifier:    notifier,
		Logger:      logger,
	}
	if metrics != nil {
		schedCfg.Metrics = metrics
	}
	c.scheduler, err = scheduler.New(schedCfg)
	if err != nil {
		c.close(ctx, logger)
		return nil, err
	}
	return c, nil
}

func stageConfig(cfg *config.Config) stage.Config {
	return stage.Config{
		Tests: stage.TestsConfig{
			DatabaseImage:    cfg.Tests.DatabaseImage,
			DatabasePort:     cfg.Tests.DatabasePort,
			DatabaseName:     cfg.Tests.DatabaseName,
			DatabaseUser:     cfg.Tests.DatabaseUser,
			DatabasePassword: cfg.Tests.DatabasePassword,
			Readiness: backoff.Policy{
				Config:   backoff.Config{Initial: cfg.Tests.ReadinessInitial, Max: cfg.Tests.ReadinessMax},
				Attempts: cfg.Tests.ReadinessAttempts,
			},
			Image:    cfg.Pipeline.ToolchainImage,
			Install:  cfg.Tests.Install,
			Frontend: cfg.Tests.Frontend,
			Test:     cfg.Tests.Test,
			Coverage: cfg.Tests.Coverage,
		},
		Docs: stage.DocsConfig{
			Image:   cfg.Pipeline.ToolchainImage,
			Install: cfg.Docs.Install,
			Build:   cfg.Docs.Build,
		},
		Docker: stage.DockerConfig{
			Name:       cfg.Image.Name,
			Dockerfile: cfg.Image.Dockerfile,
			ContextDir: cfg.Image.Context,
			Retention:  cfg.Image.Retention,
		},
		Publish: stage.PublishConfig{
			ImageName:  cfg.Image.Name,
			Repository: cfg.Registry.Repository,
		},
	}
}

func proberFor(name string) (docker.Prober, error) {
	switch name {
	case "", "postgres":
		return docker.PostgresProbe, nil
	case "tcp":
		return docker.TCPProbe, nil
	default:
		return nil, fmt.Errorf("unknown database probe %q", name)
	}
}

// openerFor returns the per-run artifact store factory. The minio backend
// also registers an "artifacts" readiness check on c.
func openerFor(ctx context.Context, cfg config.ArtifactsConfig, logger *slog.Logger, c *components) (artifact.Opener, error) {
	opts := artifact.Options{Logger: logger, MaintenanceInterval: cfg.MaintenanceInterval}

	switch cfg.Backend {
	case "", "memory":
		return artifact.MemoryOpener(opts), nil
	case "minio":
		minioCfg := artifact.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			Region:    cfg.Minio.Region,
			AccessKey: config.GetSecretFile(cfg.Minio.AccessKeyFile),
			SecretKey: config.GetSecretFile(cfg.Minio.SecretKeyFile),
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		}
		client, err := artifact.NewMinioClient(minioCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		if c != nil {
			c.readiness["artifacts"] = minioReadiness(client, minioCfg.Bucket)
		}
		logger.Info("Using minio artifact store", "endpoint", minioCfg.Endpoint, "bucket", minioCfg.Bucket)
		return artifact.MinioOpener(client, minioCfg, opts), nil
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}

func minioReadiness(client *minio.Client, bucket string) health.ReadinessChecker {
	return health.ReadyFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := client.BucketExists(ctx, bucket); err != nil {
			return errors.Join(errors.New("artifact store unreachable"), err)
		}
		return nil
	})
}
