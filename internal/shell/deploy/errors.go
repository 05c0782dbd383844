package deploy

import (
	"errors"

	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/shell/registry"
)

// =============================================================================
// Service Errors
// =============================================================================

var (
	// ErrNotFound is returned when an operation names an unknown deployment.
	// It is the registry's sentinel, re-exported so callers depend on this
	// package only.
	ErrNotFound = registry.ErrNotFound

	// ErrRollbackUnavailable is returned when a project lacks a previous
	// running deployment to roll back to.
	ErrRollbackUnavailable = deployment.ErrNoPreviousDeployment

	// ErrStartupTimeout marks a container that never reported running within
	// the ready window.
	ErrStartupTimeout = errors.New("container startup timed out")

	// ErrClosed is returned for operations on a closed service.
	ErrClosed = errors.New("deployment service is closed")
)
