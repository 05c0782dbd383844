package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultTag is used when a config does not name an image tag.
	DefaultTag = "latest"

	// DefaultPort is exposed when a config requests no ports.
	DefaultPort = 3000

	// DefaultMemoryLimit caps container memory when unspecified (512 MiB).
	DefaultMemoryLimit int64 = 512 * 1024 * 1024

	// DefaultCPULimit caps container CPU when unspecified (half a core).
	DefaultCPULimit = 0.5
)

// =============================================================================
// Deployment Config
// =============================================================================

// HealthCheckSpec describes an optional container health check.
type HealthCheckSpec struct {
	Command     []string      `json:"command"`
	Interval    time.Duration `json:"interval,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Retries     int           `json:"retries,omitempty"`
	StartPeriod time.Duration `json:"start_period,omitempty"`
}

// ResourceSpec caps the container's resource usage.
type ResourceSpec struct {
	// MemoryBytes is the memory ceiling in bytes.
	MemoryBytes int64 `json:"memory_bytes,omitempty"`

	// CPU is the CPU quota in cores (0.5 = half a core).
	CPU float64 `json:"cpu,omitempty"`
}

// DeploymentConfig is the input to a create call. It is consumed by the
// lifecycle controller and not persisted as such; the resulting record keeps
// only what retention and rollback decisions need.
type DeploymentConfig struct {
	ProjectID   string            `json:"project_id"`
	ProjectName string            `json:"project_name,omitempty"`
	Slot        string            `json:"slot,omitempty"`
	Image       string            `json:"image"`
	Tag         string            `json:"tag,omitempty"`
	Ports       []int             `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Volumes     map[string]string `json:"volumes,omitempty"`
	HealthCheck *HealthCheckSpec  `json:"health_check,omitempty"`
	Resources   ResourceSpec      `json:"resources,omitempty"`

	// Target selects where the container runs: empty for the local runtime,
	// otherwise the name of a target from the service configuration.
	Target string `json:"target,omitempty"`

	// TargetOptions carries opaque per-target settings, passed through to the
	// target's adapter untouched.
	TargetOptions map[string]string `json:"target_options,omitempty"`
}

// Normalize fills in defaults for unset fields. It does not derive the slot;
// the controller does that so the derivation lives next to the other naming
// helpers.
func (c *DeploymentConfig) Normalize() {
	if c.Tag == "" {
		c.Tag = DefaultTag
	}
	if len(c.Ports) == 0 {
		c.Ports = []int{DefaultPort}
	}
	if c.Resources.MemoryBytes <= 0 {
		c.Resources.MemoryBytes = DefaultMemoryLimit
	}
	if c.Resources.CPU <= 0 {
		c.Resources.CPU = DefaultCPULimit
	}
}

// Validate checks that the config names everything a deployment needs.
func (c DeploymentConfig) Validate() error {
	if c.ProjectID == "" {
		return ErrMissingProject
	}
	if c.Image == "" {
		return ErrMissingImage
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, p)
		}
	}
	return nil
}
