package stage

import (
	"context"
	"fmt"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/credentials"
	"releasepipe/internal/scheduler"
	"releasepipe/internal/version"
)

// PublishConfig configures the registry push.
type PublishConfig struct {
	ImageName  string // local name the docker job built the image under
	Repository string // target repository, e.g. docker.io/acme/app
}

// PublishJob pushes the image built by the docker job. The push is a single
// attempt; a failed push fails the instance and is not retried.
type PublishJob struct {
	cfg      PublishConfig
	registry Registry
	creds    credentials.Provider
}

// NewPublish creates the publish job body.
func NewPublish(cfg PublishConfig, registry Registry, creds credentials.Provider) *PublishJob {
	return &PublishJob{cfg: cfg, registry: registry, creds: creds}
}

// Target is the reference the image is pushed as.
func (j *PublishJob) Target(ver string) string {
	return fmt.Sprintf("%s:%s", j.cfg.Repository, ver)
}

// Source is the local tag the docker job of the same run built the image
// under. Loading the artifact restores it.
func (j *PublishJob) Source(ver, runID string) string {
	return LocalImageTag(j.cfg.ImageName, ver, runID)
}

// Run loads the image artifact and pushes it under the resolved version.
func (j *PublishJob) Run(ctx context.Context, exec *scheduler.Execution) error {
	ver := version.Resolve(exec.Event.Ref)
	source := j.Source(ver, exec.RunID)
	target := j.Target(ver)
	logger := exec.Logger.With("image", source, "target", target)

	archive, err := exec.GetArtifact(ctx, version.ArtifactName(ver))
	if err != nil {
		return err
	}
	if err := j.registry.Load(ctx, archive); err != nil {
		return apperrors.Internal("publish.load", err)
	}

	lease, err := j.creds.Acquire(ctx)
	if err != nil {
		return apperrors.Auth("publish.credentials", err)
	}
	defer lease.Release()

	if err := j.registry.Login(ctx, lease); err != nil {
		return apperrors.Auth("publish.login", err)
	}
	logger.Info("Registry login succeeded", "credentials", lease)

	if err := j.registry.Push(ctx, source, target, lease); err != nil {
		return apperrors.Publish("publish.push", err)
	}
	logger.Info("Image published", "version", ver)
	return nil
}
