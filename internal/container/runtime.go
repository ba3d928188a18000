package container

import (
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Runtime controls containers on the container engine.
type Runtime interface {
	// Remove force-removes a container. A missing container is not an error.
	Remove(ctx context.Context, runtimeID string) error
}

// DockerRuntime implements Runtime with the Docker engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects using the DOCKER_* environment.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client failed: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Ping checks the engine connection.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Remove force-removes the container and its anonymous volumes.
func (d *DockerRuntime) Remove(ctx context.Context, runtimeID string) error {
	err := d.cli.ContainerRemove(ctx, runtimeID, dockercontainer.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Close releases the client.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}
