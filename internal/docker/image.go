package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/pkg/jsonmessage"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/credentials"
	"releasepipe/internal/stage"
)

// Build builds spec.Tag from the context directory, resolved against the
// source tree when relative.
func (c *Client) Build(ctx context.Context, spec stage.BuildSpec) error {
	contextDir := c.contextDir(spec.ContextDir)
	buildCtx := tarDir(contextDir)
	defer buildCtx.Close()

	args := make(map[string]*string, len(spec.BuildArgs))
	for k, v := range spec.BuildArgs {
		args[k] = &v
	}
	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	resp, err := c.api.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{spec.Tag},
		Dockerfile:  filepath.ToSlash(dockerfile),
		BuildArgs:   args,
		Labels:      spec.Labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("start build: %w", err)
	}
	defer resp.Body.Close()

	var log bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &log, 0, false, nil); err != nil {
		c.logger.Warn("Image build failed", "image", spec.Tag, "output", tailString(log.String(), 2048))
		return streamError("docker.build", err)
	}
	c.logger.Info("Image built", "image", spec.Tag, "context", contextDir)
	return nil
}

// Save exports ref as a docker-archive tarball.
func (c *Client) Save(ctx context.Context, ref string) ([]byte, error) {
	rc, err := c.api.ImageSave(ctx, []string{ref})
	if err != nil {
		return nil, fmt.Errorf("save image: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image archive: %w", err)
	}
	return data, nil
}

// Load imports an archive produced by Save.
func (c *Client) Load(ctx context.Context, archive []byte) error {
	resp, err := c.api.ImageLoad(ctx, bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	return nil
}

// Login authenticates against the lease's registry.
func (c *Client) Login(ctx context.Context, lease *credentials.Lease) error {
	auth, err := authConfig(lease)
	if err != nil {
		return err
	}
	if _, err := c.api.RegistryLogin(ctx, auth); err != nil {
		return fmt.Errorf("registry login: %w", err)
	}
	return nil
}

// Push tags source as target and pushes target once.
func (c *Client) Push(ctx context.Context, source, target string, lease *credentials.Lease) error {
	if err := c.api.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("tag %s: %w", target, err)
	}

	auth, err := authConfig(lease)
	if err != nil {
		return err
	}
	encoded, err := registry.EncodeAuthConfig(auth)
	if err != nil {
		return fmt.Errorf("encode registry auth: %w", err)
	}

	rc, err := c.api.ImagePush(ctx, target, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return fmt.Errorf("push %s: %w", target, err)
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return streamError("docker.push", err)
	}
	return nil
}

func (c *Client) contextDir(dir string) string {
	switch {
	case dir == "":
		return c.sourceDir
	case filepath.IsAbs(dir):
		return dir
	default:
		return filepath.Join(c.sourceDir, dir)
	}
}

func authConfig(lease *credentials.Lease) (registry.AuthConfig, error) {
	if lease == nil {
		return registry.AuthConfig{}, errors.New("no registry credentials")
	}
	password, err := lease.Password()
	if err != nil {
		return registry.AuthConfig{}, err
	}
	return registry.AuthConfig{
		Username:      lease.Username,
		Password:      password,
		ServerAddress: lease.Server,
	}, nil
}

// streamError turns an error message embedded in a daemon progress stream
// into a step failure carrying its code.
func streamError(op string, err error) error {
	var jsonErr *jsonmessage.JSONError
	if errors.As(err, &jsonErr) {
		code := jsonErr.Code
		if code == 0 {
			code = 1
		}
		return apperrors.Step(op, code, errors.New(jsonErr.Message))
	}
	return err
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var (
	_ stage.ImageBuilder = (*Client)(nil)
	_ stage.Registry     = (*Client)(nil)
)
