// Package runtime abstracts the container runtime behind a single adapter
// interface with two implementations: a Docker-backed one and a deterministic
// simulated one used when no runtime is reachable.
package runtime

import (
	"context"
	"time"

	"github.com/artpar/berth/internal/core/domain"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortBinding
	Volumes       []VolumeMount
	RestartPolicy RestartPolicy
	Resources     ResourceLimits
	HealthCheck   *HealthCheck
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// ResourceLimits defines resource constraints.
type ResourceLimits struct {
	CPULimit    float64 // CPU cores
	MemoryLimit int64   // Bytes
}

// HealthCheck defines container health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// ContainerState is what Inspect reports about a container.
type ContainerState struct {
	Running  bool
	Status   string // "running", "exited", "created", ...
	ExitCode int
}

// =============================================================================
// Adapter Interface
// =============================================================================

// LineFunc receives one log line together with the stream it was read from.
type LineFunc func(origin domain.LogOrigin, line string)

// CancelFunc stops a log stream. Safe to call more than once.
type CancelFunc func()

// Adapter is the runtime boundary the lifecycle controller drives. One
// adapter holds one runtime connection, reused across all operations.
//
// Implementations: DockerAdapter (live runtime) and SimAdapter (deterministic
// placeholder used when the runtime is unreachable at construction). Which
// one a caller gets is decided once, by New; after that the controller never
// branches on the implementation, and IsAvailable is the only way to tell.
type Adapter interface {
	// ResolveImage pulls image:tag and returns the reference to deploy. The
	// reference is valid even when the pull fails; a non-nil error means the
	// caller may fall back to a local copy of the image.
	ResolveImage(ctx context.Context, image, tag string) (string, error)

	// Preempt stops and removes any container occupying the slot. A vacant
	// slot is not an error.
	Preempt(ctx context.Context, slot string) error

	// CreateAndStart creates a container from the spec and starts it.
	CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error)

	// Stop stops the container, waiting up to grace before killing it.
	Stop(ctx context.Context, ref string, grace time.Duration) error

	// Remove removes the container.
	Remove(ctx context.Context, ref string) error

	// Inspect reports the container's current state.
	Inspect(ctx context.Context, ref string) (ContainerState, error)

	// StreamLogs follows the container's combined output, invoking onLine per
	// line until the returned cancel runs or ctx ends.
	StreamLogs(ctx context.Context, ref string, onLine LineFunc) (CancelFunc, error)

	// IsAvailable reports whether a live runtime backs this adapter.
	IsAvailable() bool

	// Close releases the runtime connection.
	Close() error
}

// Resolver hands out the adapter for a named deployment target.
type Resolver interface {
	// ForTarget returns the adapter for a target name; "" means local.
	ForTarget(ctx context.Context, target string) (Adapter, error)

	// EndpointHost returns the host deployments on this target are reached at.
	EndpointHost(target string) string
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged    = "com.berth.managed"
	LabelProject    = "com.berth.project"
	LabelDeployment = "com.berth.deployment"
	LabelSlot       = "com.berth.slot"
)
