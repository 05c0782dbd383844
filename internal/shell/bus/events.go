// Package bus is the in-process event fabric for deployment lifecycle
// notifications. Subscribers are pure observers: nothing in the lifecycle
// depends on anyone listening.
package bus

import (
	"github.com/artpar/berth/internal/core/domain"
)

// =============================================================================
// Event Types
// =============================================================================

// Event is anything the lifecycle publishes about one deployment.
type Event interface {
	// DeploymentID returns the deployment the event belongs to.
	DeploymentID() string
}

// DeploymentCreated is published once, right after the pending record is
// persisted.
type DeploymentCreated struct {
	Record *domain.Deployment
}

func (e DeploymentCreated) DeploymentID() string { return e.Record.ID }

// StatusChanged is published on every status transition. Error carries the
// failure message when To is failed.
type StatusChanged struct {
	ID    string
	From  domain.DeploymentStatus
	To    domain.DeploymentStatus
	Error string
}

func (e StatusChanged) DeploymentID() string { return e.ID }

// LogLine is one line of deployment output, either container output relayed
// by the log pump or an orchestration progress line.
type LogLine struct {
	ID    string
	Entry domain.LogEntry
}

func (e LogLine) DeploymentID() string { return e.ID }
