// Package config loads pipeline configuration from defaults, an optional YAML
// file and environment variables.
//
// Keys are dotted (pipeline.parallelism) and map to environment variables by
// replacing dots with underscores (PIPELINE_PARALLELISM).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"releasepipe/internal/apperrors"
)

// Config is the complete releasepipe configuration.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Tests     TestsConfig     `mapstructure:"tests"`
	Docs      DocsConfig      `mapstructure:"docs"`
	Image     ImageConfig     `mapstructure:"image"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Callback  CallbackConfig  `mapstructure:"callback"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// PipelineConfig holds scheduler-wide settings.
type PipelineConfig struct {
	Parallelism    int           `mapstructure:"parallelism"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	Workspace      string        `mapstructure:"workspace"`       // Host path of the checked-out source tree
	ToolchainImage string        `mapstructure:"toolchain_image"` // Image the opaque build/test/docs commands run in
}

// TestsConfig configures the tests matrix and its ephemeral database.
type TestsConfig struct {
	DatabaseVersions  []string      `mapstructure:"database_versions"`
	DatabaseImage     string        `mapstructure:"database_image"`
	DatabasePort      int           `mapstructure:"database_port"`
	DatabaseName      string        `mapstructure:"database_name"`
	DatabaseUser      string        `mapstructure:"database_user"`
	DatabasePassword  string        `mapstructure:"database_password"` // Throwaway password of the ephemeral service
	DatabaseProbe     string        `mapstructure:"database_probe"`    // postgres or tcp
	ServiceHost       string        `mapstructure:"service_host"`      // Address service ports are published on
	ReadinessAttempts int           `mapstructure:"readiness_attempts"`
	ReadinessInitial  time.Duration `mapstructure:"readiness_initial"`
	ReadinessMax      time.Duration `mapstructure:"readiness_max"`
	Install           string        `mapstructure:"install"`
	Frontend          string        `mapstructure:"frontend"`
	Test              string        `mapstructure:"test"`
	Coverage          string        `mapstructure:"coverage"`
}

// DocsConfig configures the docs job commands.
type DocsConfig struct {
	Install string `mapstructure:"install"`
	Build   string `mapstructure:"build"`
}

// ImageConfig configures the docker job.
type ImageConfig struct {
	Name       string        `mapstructure:"name"`
	Dockerfile string        `mapstructure:"dockerfile"`
	Context    string        `mapstructure:"context"`
	Retention  time.Duration `mapstructure:"retention"`
}

// RegistryConfig configures the publish job. Credentials are only ever read
// from files at acquisition time.
type RegistryConfig struct {
	Server       string `mapstructure:"server"`
	Repository   string `mapstructure:"repository"`
	UsernameFile string `mapstructure:"username_file"`
	PasswordFile string `mapstructure:"password_file"`
}

// ArtifactsConfig selects and configures the artifact store backend.
type ArtifactsConfig struct {
	Backend             string        `mapstructure:"backend"` // memory or minio
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	Minio               MinioConfig   `mapstructure:"minio"`
}

// MinioConfig configures the S3-compatible artifact backend.
type MinioConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	AccessKeyFile string `mapstructure:"access_key_file"`
	SecretKeyFile string `mapstructure:"secret_key_file"`
}

// CallbackConfig configures lifecycle and coverage notifications.
type CallbackConfig struct {
	URL        string        `mapstructure:"url"`
	KeyFile    string        `mapstructure:"key_file"`
	BufferSize int           `mapstructure:"buffer_size"`
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Port                string        `mapstructure:"port"`
	MetricsPort         string        `mapstructure:"metrics_port"`
	APIKeyFile          string        `mapstructure:"api_key_file"`
	ShutdownDrainWait   time.Duration `mapstructure:"shutdown_drain_wait"` // Time to wait for load balancer to drain (0 to skip)
	RunRetention        time.Duration `mapstructure:"run_retention"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Parallelism:    4,
			JobTimeout:     30 * time.Minute,
			Workspace:      ".",
			ToolchainImage: "nikolaik/python-nodejs:python3.7-nodejs12",
		},
		Tests: TestsConfig{
			DatabaseVersions:  []string{"10", "11", "12"},
			DatabaseImage:     "postgres",
			DatabasePort:      5432,
			DatabaseName:      "notifications",
			DatabaseUser:      "postgres",
			DatabasePassword:  "postgres",
			DatabaseProbe:     "postgres",
			ServiceHost:       "127.0.0.1",
			ReadinessAttempts: 10,
			ReadinessInitial:  500 * time.Millisecond,
			ReadinessMax:      10 * time.Second,
			Install:           "pip install -r requirements/ci.txt && npm ci",
			Frontend:          "npm run build",
			Test:              "python src/manage.py collectstatic --noinput --link && coverage run src/manage.py test src",
			Coverage:          "coverage report",
		},
		Docs: DocsConfig{
			Install: "pip install -r requirements/ci.txt",
			Build:   "cd docs && make html SPHINXOPTS=-W",
		},
		Image: ImageConfig{
			Name:       "notifications",
			Dockerfile: "Dockerfile",
			Context:    ".",
			Retention:  24 * time.Hour,
		},
		Registry: RegistryConfig{
			Server:     "https://index.docker.io/v1/",
			Repository: "docker.io/example/notifications",
		},
		Artifacts: ArtifactsConfig{
			Backend:             "memory",
			MaintenanceInterval: time.Minute,
			Minio: MinioConfig{
				Endpoint: "localhost:9000",
				Bucket:   "pipeline-artifacts",
				Prefix:   "runs",
			},
		},
		Callback: CallbackConfig{
			BufferSize: 1000,
			Workers:    2,
			Timeout:    10 * time.Second,
		},
		Server: ServerConfig{
			Port:                "8080",
			MetricsPort:         "9090",
			ShutdownDrainWait:   5 * time.Second,
			RunRetention:        time.Hour,
			MaintenanceInterval: time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key so environment variables can override it.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("pipeline.parallelism", d.Pipeline.Parallelism)
	v.SetDefault("pipeline.job_timeout", d.Pipeline.JobTimeout)
	v.SetDefault("pipeline.workspace", d.Pipeline.Workspace)
	v.SetDefault("pipeline.toolchain_image", d.Pipeline.ToolchainImage)

	v.SetDefault("tests.database_versions", d.Tests.DatabaseVersions)
	v.SetDefault("tests.database_image", d.Tests.DatabaseImage)
	v.SetDefault("tests.database_port", d.Tests.DatabasePort)
	v.SetDefault("tests.database_name", d.Tests.DatabaseName)
	v.SetDefault("tests.database_user", d.Tests.DatabaseUser)
	v.SetDefault("tests.database_password", d.Tests.DatabasePassword)
	v.SetDefault("tests.database_probe", d.Tests.DatabaseProbe)
	v.SetDefault("tests.service_host", d.Tests.ServiceHost)
	v.SetDefault("tests.readiness_attempts", d.Tests.ReadinessAttempts)
	v.SetDefault("tests.readiness_initial", d.Tests.ReadinessInitial)
	v.SetDefault("tests.readiness_max", d.Tests.ReadinessMax)
	v.SetDefault("tests.install", d.Tests.Install)
	v.SetDefault("tests.frontend", d.Tests.Frontend)
	v.SetDefault("tests.test", d.Tests.Test)
	v.SetDefault("tests.coverage", d.Tests.Coverage)

	v.SetDefault("docs.install", d.Docs.Install)
	v.SetDefault("docs.build", d.Docs.Build)

	v.SetDefault("image.name", d.Image.Name)
	v.SetDefault("image.dockerfile", d.Image.Dockerfile)
	v.SetDefault("image.context", d.Image.Context)
	v.SetDefault("image.retention", d.Image.Retention)

	v.SetDefault("registry.server", d.Registry.Server)
	v.SetDefault("registry.repository", d.Registry.Repository)
	v.SetDefault("registry.username_file", d.Registry.UsernameFile)
	v.SetDefault("registry.password_file", d.Registry.PasswordFile)

	v.SetDefault("artifacts.backend", d.Artifacts.Backend)
	v.SetDefault("artifacts.maintenance_interval", d.Artifacts.MaintenanceInterval)
	v.SetDefault("artifacts.minio.endpoint", d.Artifacts.Minio.Endpoint)
	v.SetDefault("artifacts.minio.region", d.Artifacts.Minio.Region)
	v.SetDefault("artifacts.minio.bucket", d.Artifacts.Minio.Bucket)
	v.SetDefault("artifacts.minio.prefix", d.Artifacts.Minio.Prefix)
	v.SetDefault("artifacts.minio.use_ssl", d.Artifacts.Minio.UseSSL)
	v.SetDefault("artifacts.minio.access_key_file", d.Artifacts.Minio.AccessKeyFile)
	v.SetDefault("artifacts.minio.secret_key_file", d.Artifacts.Minio.SecretKeyFile)

	v.SetDefault("callback.url", d.Callback.URL)
	v.SetDefault("callback.key_file", d.Callback.KeyFile)
	v.SetDefault("callback.buffer_size", d.Callback.BufferSize)
	v.SetDefault("callback.workers", d.Callback.Workers)
	v.SetDefault("callback.timeout", d.Callback.Timeout)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("server.api_key_file", d.Server.APIKeyFile)
	v.SetDefault("server.shutdown_drain_wait", d.Server.ShutdownDrainWait)
	v.SetDefault("server.run_retention", d.Server.RunRetention)
	v.SetDefault("server.maintenance_interval", d.Server.MaintenanceInterval)

	v.SetDefault("log.level", d.Log.Level)
}

// Load reads the configuration from v into a Config struct and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Pipeline.Parallelism < 1 {
		return apperrors.Validation("pipeline.parallelism", "pipeline.parallelism must be >= 1")
	}
	if c.Pipeline.JobTimeout <= 0 {
		return apperrors.Validation("pipeline.job_timeout", "pipeline.job_timeout must be positive")
	}
	if len(c.Tests.DatabaseVersions) == 0 {
		return apperrors.Validation("tests.database_versions", "at least one database version is required")
	}
	if c.Tests.DatabasePort <= 0 || c.Tests.DatabasePort > 65535 {
		return apperrors.Validation("tests.database_port", fmt.Sprintf("invalid database port %d", c.Tests.DatabasePort))
	}
	if c.Tests.DatabaseProbe != "postgres" && c.Tests.DatabaseProbe != "tcp" {
		return apperrors.Validation("tests.database_probe", fmt.Sprintf("unknown database probe %q (supported: postgres, tcp)", c.Tests.DatabaseProbe))
	}
	if c.Tests.ReadinessAttempts < 1 {
		return apperrors.Validation("tests.readiness_attempts", "tests.readiness_attempts must be >= 1")
	}
	if c.Image.Name == "" {
		return apperrors.Validation("image.name", "image.name is required")
	}
	if c.Image.Retention <= 0 {
		return apperrors.Validation("image.retention", "image.retention must be positive")
	}
	switch c.Artifacts.Backend {
	case "memory":
	case "minio":
		if c.Artifacts.Minio.Endpoint == "" || c.Artifacts.Minio.Bucket == "" {
			return apperrors.Validation("artifacts.minio", "minio backend requires endpoint and bucket")
		}
	default:
		return apperrors.Validation("artifacts.backend", fmt.Sprintf("unknown artifact backend %q (supported: memory, minio)", c.Artifacts.Backend))
	}
	return nil
}
