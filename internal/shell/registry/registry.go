// Package registry persists deployment records.
package registry

import (
	"context"

	"github.com/artpar/berth/internal/core/domain"
)

// =============================================================================
// Registry Interface
// =============================================================================

// Registry is the persistence boundary for deployment records. Records are
// written whole; Upsert inserts on first write and replaces everything but
// created_at after that.
type Registry interface {
	// Upsert writes the record, inserting or replacing by ID.
	Upsert(ctx context.Context, d *domain.Deployment) error

	// Get returns the record with the given ID.
	Get(ctx context.Context, id string) (*domain.Deployment, error)

	// GetByProject returns every record for a project, newest first.
	GetByProject(ctx context.Context, projectID string) ([]domain.Deployment, error)

	// Delete removes the record with the given ID.
	Delete(ctx context.Context, id string) error

	// ListProjects returns the distinct project IDs with at least one record.
	ListProjects(ctx context.Context) ([]string, error)

	// CountByStatus returns how many records sit in each status.
	CountByStatus(ctx context.Context) (map[domain.DeploymentStatus]int, error)

	// Close releases the underlying storage.
	Close() error
}
