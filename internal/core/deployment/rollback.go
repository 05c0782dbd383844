package deployment

import (
	"errors"

	"github.com/artpar/berth/internal/core/domain"
)

// =============================================================================
// Rollback Selection
// =============================================================================

// ErrNoPreviousDeployment is returned when a project has no eligible previous
// deployment to roll back to.
var ErrNoPreviousDeployment = errors.New("no previous deployment available")

// RollbackPlan names the two deployments a rollback works on: the current one
// (rolled back in place) and the previous one (whose image, tag, and ports
// are redeployed).
type RollbackPlan struct {
	Current  *domain.Deployment
	Previous *domain.Deployment
}

// PlanRollback picks the rollback pair from a project's records. The input
// must be ordered newest-first; eligibility is limited to records still in
// the running status. The newest running record is the current deployment,
// the next one is what it rolls back to. Fewer than two running records
// means there is nothing to roll back to.
func PlanRollback(records []*domain.Deployment) (RollbackPlan, error) {
	var running []*domain.Deployment
	for _, r := range records {
		if r.Status == domain.StatusRunning {
			running = append(running, r)
		}
	}

	if len(running) < 2 {
		return RollbackPlan{}, ErrNoPreviousDeployment
	}

	return RollbackPlan{Current: running[0], Previous: running[1]}, nil
}
