package provisioner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/kitchen-metal/metalctl/internal/registry"
)

// SchemeDocker is the provisioner URL scheme handled by the Docker daemon.
const SchemeDocker = "docker"

// ContainerAPI is the subset of the Docker client used to delete machines.
type ContainerAPI interface {
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Docker deletes machines that are Docker containers.
type Docker struct {
	api ContainerAPI
}

// NewDocker wraps an existing Docker API client.
func NewDocker(api ContainerAPI) *Docker {
	return &Docker{api: api}
}

// DockerConstructor builds Docker provisioners. The URL path selects the
// daemon: empty uses DOCKER_HOST and friends, an absolute path is a unix
// socket, anything else is a tcp host:port.
func DockerConstructor() Constructor {
	return func(path string) (Provisioner, error) {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if host := dockerHost(path); host != "" {
			opts = append(opts, client.WithHost(host))
		}
		api, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		return NewDocker(api), nil
	}
}

func dockerHost(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return ""
	case strings.Contains(path, "://"):
		return path
	case filepath.IsAbs(path):
		return "unix://" + path
	default:
		return "tcp://" + path
	}
}

// DeleteMachine stops and force-removes the machine's container. A container
// that no longer exists counts as deleted.
func (d *Docker) DeleteMachine(ctx context.Context, action ActionContext, rec registry.Record) error {
	name := rec.OutputString("container_name")
	if name == "" {
		name = rec.Name
	}

	action.Log().Info("removing docker machine", "machine", rec.Name, "container", name, "actor", action.Actor)
	if err := d.api.ContainerStop(ctx, name, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	if err := d.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// Close releases the Docker client.
func (d *Docker) Close() error {
	return d.api.Close()
}
