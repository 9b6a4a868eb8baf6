// Package docker runs containers for the local runtime through the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/runtime"
)

// DefaultStopTimeout is how long a container gets to exit before it is killed.
const DefaultStopTimeout = 10

// dockerAPI is the part of the Docker client the runner uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkRemove(ctx context.Context, networkID string) error
}

var _ dockerAPI = (*client.Client)(nil)

// Options configures a Runner.
type Options struct {
	// Platform pins pulled images to os/arch, e.g. linux/amd64.
	Platform string
	// HostIP is the host address published ports bind to.
	HostIP string
	// StopTimeout is in seconds.
	StopTimeout int
	// Progress receives the image pull stream.
	Progress io.Writer
	Log      *slog.Logger
}

// Runner implements runtime.ContainerRunner.
type Runner struct {
	client dockerAPI
	opts   Options
	log    *slog.Logger
}

var _ runtime.ContainerRunner = (*Runner)(nil)

// New connects to the Docker daemon configured by the environment.
func New(opts Options) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return newRunner(cli, opts), nil
}

func newRunner(api dockerAPI, opts Options) *Runner {
	if opts.HostIP == "" {
		opts.HostIP = "127.0.0.1"
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	return &Runner{
		client: api,
		opts:   opts,
		log:    logging.OrDefault(opts.Log).With("component", "docker"),
	}
}

// CreateNetwork creates a bridge network. An existing network of the same name is reused.
func (r *Runner) CreateNetwork(ctx context.Context, name string) error {
	_, err := r.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{runtime.LabelManaged: "true"},
	})
	if err != nil {
		if errdefs.IsConflict(err) {
			r.log.Debug("reusing network", "network", name)
			return nil
		}
		return fmt.Errorf("failed to create network: %w", err)
	}
	return nil
}

func (r *Runner) RemoveNetwork(ctx context.Context, name string) error {
	if err := r.client.NetworkRemove(ctx, name); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove network: %w", err)
	}
	return nil
}

// Run pulls the image, replaces any container left over under the same name and starts
// a new one.
func (r *Runner) Run(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	platform, err := parsePlatform(r.opts.Platform)
	if err != nil {
		return "", err
	}

	pullErr := r.pull(ctx, spec.Image, r.opts.Platform)
	if pullErr != nil {
		r.log.Warn("image pull failed, trying local image", "image", spec.Image, "error", pullErr)
	}

	if err := r.remove(ctx, spec.Name); err != nil {
		return "", err
	}

	config, hostConfig, netConfig := r.containerConfig(spec)
	resp, err := r.client.ContainerCreate(ctx, config, hostConfig, netConfig, platform, spec.Name)
	if err != nil {
		if pullErr != nil && client.IsErrNotFound(err) {
			return "", fmt.Errorf("failed to pull image %s: %w", spec.Image, pullErr)
		}
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	for _, w := range resp.Warnings {
		r.log.Warn("container warning", "container", spec.Name, "warning", w)
	}
	return resp.ID, nil
}

func (r *Runner) pull(ctx context.Context, ref, platform string) error {
	reader, err := r.client.ImagePull(ctx, ref, image.PullOptions{Platform: platform})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(r.opts.Progress, reader)
	return err
}

func (r *Runner) containerConfig(spec runtime.ContainerSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	exposed := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, pb := range spec.Ports {
		p := nat.Port(fmt.Sprintf("%d/tcp", pb.ContainerPort))
		exposed[p] = struct{}{}
		portBindings[p] = append(portBindings[p], nat.PortBinding{
			HostIP:   r.opts.HostIP,
			HostPort: strconv.Itoa(pb.HostPort),
		})
	}

	var binds []string
	for _, m := range spec.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Args,
		Env:          mapToEnvList(spec.Env),
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	netConfig := &network.NetworkingConfig{}
	if spec.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.Network)
		netConfig.EndpointsConfig = map[string]*network.EndpointSettings{
			spec.Network: {Aliases: spec.Aliases},
		}
	}
	return config, hostConfig, netConfig
}

// Stop stops and removes the container called name. A missing container is not an error.
func (r *Runner) Stop(ctx context.Context, name string) error {
	timeout := r.opts.StopTimeout
	if err := r.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		r.log.Warn("failed to stop container, removing it", "container", name, "error", err)
	}
	return r.remove(ctx, name)
}

func (r *Runner) remove(ctx context.Context, name string) error {
	if err := r.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func parsePlatform(s string) (*v1.Platform, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid platform %q, expected os/arch[/variant]", s)
	}
	p := &v1.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		p.Variant = parts[2]
	}
	return p, nil
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}
