package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrMissingProject    = errors.New("project id is required")
	ErrMissingImage      = errors.New("image is required")
	ErrInvalidPort       = errors.New("port must be between 1 and 65535")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusPending     DeploymentStatus = "pending"
	StatusBuilding    DeploymentStatus = "building"
	StatusDeploying   DeploymentStatus = "deploying"
	StatusRunning     DeploymentStatus = "running"
	StatusStopping    DeploymentStatus = "stopping"
	StatusStopped     DeploymentStatus = "stopped"
	StatusRollingBack DeploymentStatus = "rolling_back"
	StatusFailed      DeploymentStatus = "failed"
)

// IsActive reports whether a deployment in this status may still be driven
// forward by the controller (i.e. it is stoppable).
func (s DeploymentStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusBuilding, StatusDeploying, StatusRunning, StatusRollingBack:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusFailed
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment represents one tracked attempt to run a containerized image for
// a project. It is mutated only by the lifecycle controller.
type Deployment struct {
	ID           string           `json:"id"`
	ProjectID    string           `json:"project_id"`
	ProjectName  string           `json:"project_name,omitempty"`
	Slot         string           `json:"slot"`
	Status       DeploymentStatus `json:"status"`
	ContainerRef string           `json:"container_ref,omitempty"`
	Image        string           `json:"image"`
	Tag          string           `json:"tag"`
	Ports        []int            `json:"ports"`
	Target       string           `json:"target,omitempty"`
	Endpoint     string           `json:"endpoint,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Logs         string           `json:"logs,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	DeployedAt   *time.Time       `json:"deployed_at,omitempty"`
}

// NewDeployment creates a pending deployment from a normalized config.
func NewDeployment(cfg DeploymentConfig) (*Deployment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Deployment{
		ID:          uuid.New().String(),
		ProjectID:   cfg.ProjectID,
		ProjectName: cfg.ProjectName,
		Slot:        cfg.Slot,
		Status:      StatusPending,
		Image:       cfg.Image,
		Tag:         cfg.Tag,
		Ports:       append([]int(nil), cfg.Ports...),
		Target:      cfg.Target,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ImageRef returns the full image reference including the tag.
func (d *Deployment) ImageRef() string {
	if d.Tag == "" {
		return d.Image
	}
	return fmt.Sprintf("%s:%s", d.Image, d.Tag)
}

// AppendLog appends one line to the deployment's accumulated log transcript.
func (d *Deployment) AppendLog(line string) {
	d.Logs += line + "\n"
}

// Transition attempts to move the deployment to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return fmt.Errorf("%w: %s -> %s", err, d.Status, to)
	}

	d.Status = to
	d.UpdatedAt = time.Now().UTC()

	// The endpoint is only meaningful while running.
	if to != StatusRunning {
		d.Endpoint = ""
	}

	if to == StatusRunning {
		now := time.Now().UTC()
		d.DeployedAt = &now
	}

	// A rollback is a fresh attempt; previous failure context goes away.
	if to == StatusRollingBack {
		d.ErrorMessage = ""
		d.ContainerRef = ""
	}

	return nil
}

// TransitionToFailed moves the deployment to failed with an error message.
// Any non-terminal status may fail.
func (d *Deployment) TransitionToFailed(errorMessage string) error {
	if d.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, StatusFailed)
	}

	d.Status = StatusFailed
	d.ErrorMessage = errorMessage
	d.Endpoint = ""
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:     {StatusBuilding, StatusStopping, StatusFailed},
	StatusBuilding:    {StatusDeploying, StatusStopping, StatusFailed},
	StatusDeploying:   {StatusRunning, StatusStopping, StatusFailed},
	StatusRunning:     {StatusStopping, StatusRollingBack, StatusFailed},
	StatusStopping:    {StatusStopped, StatusFailed},
	StatusStopped:     {StatusRollingBack, StatusFailed},
	StatusRollingBack: {StatusRunning, StatusFailed},
	StatusFailed:      {}, // Terminal state
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// Stats
// =============================================================================

// Stats summarizes deployment counts across all projects.
type Stats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
	Stopped int `json:"stopped"`
}
