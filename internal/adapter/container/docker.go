// Package container snapshots named Docker volumes through a throwaway
// helper container.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ory/dockertest/v3/docker"
)

const (
	defaultHelperImage = "alpine:latest"
	mountPath          = "/data"
)

// API is the subset of the Docker client used here.
type API interface {
	InspectVolume(name string) (*docker.Volume, error)
	InspectImage(name string) (*docker.Image, error)
	PullImage(opts docker.PullImageOptions, auth docker.AuthConfiguration) error
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	StartContainerWithContext(id string, hostConfig *docker.HostConfig, ctx context.Context) error
	DownloadFromContainer(id string, opts docker.DownloadFromContainerOptions) error
	RemoveContainer(opts docker.RemoveContainerOptions) error
	PingWithContext(ctx context.Context) error
}

type Docker struct {
	client API
	image  string
}

// NewFromEnv connects using DOCKER_HOST and friends.
func NewFromEnv(helperImage string) (*Docker, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return New(client, helperImage), nil
}

func New(client API, helperImage string) *Docker {
	if helperImage == "" {
		helperImage = defaultHelperImage
	}
	return &Docker{client: client, image: helperImage}
}

func (d *Docker) Ping(ctx context.Context) error {
	return d.client.PingWithContext(ctx)
}

func (d *Docker) VolumeExists(_ context.Context, name string) (bool, error) {
	_, err := d.client.InspectVolume(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, docker.ErrNoSuchVolume) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect volume %s: %w", name, err)
}

// StartHelper runs the helper image with volume mounted read-only and a
// long sleep as its command, so the archive can be pulled out of it.
func (d *Docker) StartHelper(ctx context.Context, volume string) (string, error) {
	if err := d.ensureImage(ctx); err != nil {
		return "", err
	}

	hostConfig := &docker.HostConfig{
		Binds: []string{volume + ":" + mountPath + ":ro"},
	}
	c, err := d.client.CreateContainer(docker.CreateContainerOptions{
		Config: &docker.Config{
			Image: d.image,
			Cmd:   []string{"sleep", "3600"},
			Labels: map[string]string{
				"backupd.volume": volume,
			},
		},
		HostConfig: hostConfig,
		Context:    ctx,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create helper container: %w", err)
	}

	if err := d.client.StartContainerWithContext(c.ID, nil, ctx); err != nil {
		_ = d.RemoveHelper(context.WithoutCancel(ctx), c.ID)
		return "", fmt.Errorf("failed to start helper container: %w", err)
	}
	return c.ID, nil
}

func (d *Docker) ExportPath(ctx context.Context, id, path string, w io.Writer) error {
	err := d.client.DownloadFromContainer(id, docker.DownloadFromContainerOptions{
		OutputStream: w,
		Path:         path,
		Context:      ctx,
	})
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", path, err)
	}
	return nil
}

func (d *Docker) RemoveHelper(ctx context.Context, id string) error {
	err := d.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:      id,
		Force:   true,
		Context: ctx,
	})
	var noSuch *docker.NoSuchContainer
	if err != nil && !errors.As(err, &noSuch) {
		return fmt.Errorf("failed to remove helper container: %w", err)
	}
	return nil
}

func (d *Docker) ensureImage(ctx context.Context) error {
	if _, err := d.client.InspectImage(d.image); err == nil {
		return nil
	} else if !errors.Is(err, docker.ErrNoSuchImage) {
		return fmt.Errorf("failed to inspect image %s: %w", d.image, err)
	}

	repo, tag := splitImage(d.image)
	err := d.client.PullImage(docker.PullImageOptions{
		Repository: repo,
		Tag:        tag,
		Context:    ctx,
	}, docker.AuthConfiguration{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.image, err)
	}
	return nil
}

// splitImage separates "repo:tag", leaving registry ports alone.
func splitImage(image string) (string, string) {
	i := strings.LastIndex(image, ":")
	if i < 0 || strings.Contains(image[i:], "/") {
		return image, "latest"
	}
	return image[:i], image[i+1:]
}
