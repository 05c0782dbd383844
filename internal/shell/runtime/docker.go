package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/berth/internal/core/domain"
)

// preemptGrace bounds how long an evicted container gets to shut down.
const preemptGrace = 5 * time.Second

// =============================================================================
// Docker Adapter
// =============================================================================

// DockerAdapter implements Adapter against a live Docker daemon.
type DockerAdapter struct {
	cli    *client.Client
	tunnel io.Closer // non-nil when the connection rides an SSH tunnel
	logger *slog.Logger
}

// DockerOptions configures how the adapter reaches the daemon.
type DockerOptions struct {
	// Host overrides the daemon address from the environment, e.g.
	// "unix:///var/run/docker.sock" or "tcp://10.0.0.5:2375".
	Host string

	// DialContext, when set, replaces the transport dial. Used to reach a
	// remote daemon's socket through an SSH tunnel.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Tunnel is closed together with the adapter.
	Tunnel io.Closer

	Logger *slog.Logger
}

// NewDockerAdapter connects to the Docker daemon and verifies it answers.
// An unreachable daemon is reported as ErrUnavailable so the caller can
// decide whether to fall back to the simulated adapter.
func NewDockerAdapter(ctx context.Context, opts DockerOptions) (*DockerAdapter, error) {
	clientOpts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	if opts.DialContext != nil {
		clientOpts = append(clientOpts, client.WithDialContext(opts.DialContext))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, NewRuntimeError("connect", opts.Host, "failed to create client", ErrConnectionFailed)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, NewRuntimeError("connect", opts.Host, fmt.Sprintf("daemon not reachable: %v", err), ErrUnavailable)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DockerAdapter{cli: cli, tunnel: opts.Tunnel, logger: logger}, nil
}

// IsAvailable reports whether a live runtime backs this adapter.
func (d *DockerAdapter) IsAvailable() bool {
	return true
}

// Close closes the daemon connection and any tunnel beneath it.
func (d *DockerAdapter) Close() error {
	err := d.cli.Close()
	if d.tunnel != nil {
		if terr := d.tunnel.Close(); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

// =============================================================================
// Image Operations
// =============================================================================

// ResolveImage pulls image:tag from the registry. The returned reference is
// usable even when the pull fails; the error tells the caller whether it can
// only count on a local copy.
func (d *DockerAdapter) ResolveImage(ctx context.Context, imageName, tag string) (string, error) {
	ref := imageName
	if tag != "" {
		ref = imageName + ":" + tag
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return ref, NewRuntimeError("pull", ref, "image not found in registry", ErrImageNotFound)
		}
		return ref, NewRuntimeError("pull", ref, err.Error(), ErrImagePull)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return ref, NewRuntimeError("pull", ref, err.Error(), ErrImagePull)
	}

	return ref, nil
}

// =============================================================================
// Container Operations
// =============================================================================

// Preempt stops and removes every container labeled with the slot. Containers
// that disappear mid-eviction are fine; only listing or removal failures are
// reported.
func (d *DockerAdapter) Preempt(ctx context.Context, slot string) error {
	f := filters.NewArgs()
	f.Add("label", LabelSlot+"="+slot)

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return NewRuntimeError("preempt", slot, err.Error(), err)
	}

	for _, c := range containers {
		seconds := int(preemptGrace.Seconds())
		if err := d.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &seconds}); err != nil && !client.IsErrNotFound(err) {
			d.logger.Warn("Failed to stop container during preemption",
				"slot", slot,
				"container_id", c.ID,
				"error", err)
		}
		if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			return NewRuntimeError("preempt", c.ID, err.Error(), err)
		}
	}

	return nil
}

// CreateAndStart creates a container from the spec and starts it. A container
// that was created but failed to start is removed before returning.
func (d *DockerAdapter) CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
	}

	// Set environment variables
	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}

	// Port bindings
	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = fmt.Sprintf("%d", p.HostPort)
			}

			portBindings[containerPort] = []nat.PortBinding{
				{
					HostIP:   p.HostIP,
					HostPort: hostPort,
				},
			}
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	// Volume mounts
	for _, v := range spec.Volumes {
		var mountType mount.Type
		if strings.HasPrefix(v.Source, "/") {
			mountType = mount.TypeBind
		} else {
			mountType = mount.TypeVolume
		}

		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	// Resource limits
	if spec.Resources.CPULimit > 0 {
		hostConfig.NanoCPUs = int64(spec.Resources.CPULimit * 1e9)
	}
	if spec.Resources.MemoryLimit > 0 {
		hostConfig.Memory = spec.Resources.MemoryLimit
	}

	// Restart policy
	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	// Health check
	if spec.HealthCheck != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "Conflict") {
			return "", NewRuntimeError("create", spec.Name, "container name already in use", ErrContainerAlreadyExists)
		}
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewRuntimeError("create", spec.Name, err.Error(), ErrPortAllocated)
		}
		return "", NewRuntimeError("create", spec.Name, err.Error(), err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Do not leave a created-but-dead container in the slot
		if rmErr := d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			d.logger.Warn("Failed to remove container after start failure",
				"container_id", resp.ID,
				"error", rmErr)
		}
		return "", NewRuntimeError("start", spec.Name, err.Error(), err)
	}

	return resp.ID, nil
}

// Stop stops the container, waiting up to grace before the daemon kills it.
func (d *DockerAdapter) Stop(ctx context.Context, ref string, grace time.Duration) error {
	stopOpts := container.StopOptions{}
	if grace > 0 {
		seconds := int(grace.Seconds())
		stopOpts.Timeout = &seconds
	}

	if err := d.cli.ContainerStop(ctx, ref, stopOpts); err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("stop", ref, "container not found", ErrContainerNotFound)
		}
		return NewRuntimeError("stop", ref, err.Error(), err)
	}
	return nil
}

// Remove removes the container.
func (d *DockerAdapter) Remove(ctx context.Context, ref string) error {
	if err := d.cli.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("remove", ref, "container not found", ErrContainerNotFound)
		}
		return NewRuntimeError("remove", ref, err.Error(), err)
	}
	return nil
}

// Inspect reports the container's current state.
func (d *DockerAdapter) Inspect(ctx context.Context, ref string) (ContainerState, error) {
	resp, err := d.cli.ContainerInspect(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerState{}, NewRuntimeError("inspect", ref, "container not found", ErrContainerNotFound)
		}
		return ContainerState{}, NewRuntimeError("inspect", ref, err.Error(), err)
	}

	return ContainerState{
		Running:  resp.State.Running,
		Status:   resp.State.Status,
		ExitCode: resp.State.ExitCode,
	}, nil
}

// =============================================================================
// Log Streaming
// =============================================================================

// StreamLogs follows the container's output, delivering one callback per line
// until cancel runs or ctx ends. Lines arrive demultiplexed into stdout and
// stderr.
func (d *DockerAdapter) StreamLogs(ctx context.Context, ref string, onLine LineFunc) (CancelFunc, error) {
	reader, err := d.cli.ContainerLogs(ctx, ref, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewRuntimeError("logs", ref, "container not found", ErrContainerNotFound)
		}
		return nil, NewRuntimeError("logs", ref, err.Error(), err)
	}

	streamCtx, cancelCtx := context.WithCancel(ctx)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			reader.Close()
		})
	}

	go func() {
		defer cancel()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			if streamCtx.Err() != nil {
				return
			}

			line := scanner.Bytes()

			// Docker multiplexes stdout/stderr with an 8-byte header
			// First byte: 1=stdout, 2=stderr
			origin := domain.OriginStdout
			message := line
			if len(line) >= 8 && (line[0] == 1 || line[0] == 2) {
				if line[0] == 2 {
					origin = domain.OriginStderr
				}
				message = line[8:]
			}

			if len(message) == 0 {
				continue
			}
			onLine(origin, string(message))
		}
	}()

	return cancel, nil
}
