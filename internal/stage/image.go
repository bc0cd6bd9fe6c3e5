package stage

import (
	"context"
	"fmt"
	"time"

	"releasepipe/internal/scheduler"
	"releasepipe/internal/version"
)

// Build metadata passed to the image.
const (
	BuildArgCommit  = "COMMIT_HASH"
	BuildArgRelease = "RELEASE"
	LabelRevision   = "org.opencontainers.image.revision"
	LabelVersion    = "org.opencontainers.image.version"
)

// DockerConfig configures the image build.
type DockerConfig struct {
	Name       string
	Dockerfile string
	ContextDir string
	Retention  time.Duration
}

// DockerJob builds the release image and hands it to publish as an artifact.
type DockerJob struct {
	cfg     DockerConfig
	builder ImageBuilder
}

// NewDocker creates the docker job body.
func NewDocker(cfg DockerConfig, builder ImageBuilder) *DockerJob {
	return &DockerJob{cfg: cfg, builder: builder}
}

// ImageRef is the local tag the image is built under for one run.
func (j *DockerJob) ImageRef(ver, runID string) string {
	return LocalImageTag(j.cfg.Name, ver, runID)
}

// Run builds, saves and stores the image.
func (j *DockerJob) Run(ctx context.Context, exec *scheduler.Execution) error {
	ver := version.Resolve(exec.Event.Ref)
	ref := j.ImageRef(ver, exec.RunID)
	logger := exec.Logger.With("image", ref)

	spec := BuildSpec{
		Tag:        ref,
		Dockerfile: j.cfg.Dockerfile,
		ContextDir: j.cfg.ContextDir,
		BuildArgs: map[string]string{
			BuildArgCommit:  exec.Event.CommitSHA,
			BuildArgRelease: ver,
		},
		Labels: map[string]string{
			LabelRevision: exec.Event.CommitSHA,
			LabelVersion:  ver,
		},
	}
	for k, v := range labels(exec) {
		spec.Labels[k] = v
	}

	logger.Info("Building image")
	if err := j.builder.Build(ctx, spec); err != nil {
		return fmt.Errorf("build %s: %w", ref, err)
	}

	archive, err := j.builder.Save(ctx, ref)
	if err != nil {
		return fmt.Errorf("save %s: %w", ref, err)
	}

	artifactRef, err := exec.PutArtifact(ctx, version.ArtifactName(ver), archive, j.cfg.Retention)
	if err != nil {
		return fmt.Errorf("store %s: %w", ref, err)
	}
	logger.Info("Image stored", "artifact", artifactRef.Name, "size", artifactRef.Size, "digest", artifactRef.Digest, "expiresAt", artifactRef.ExpiresAt)
	return nil
}
