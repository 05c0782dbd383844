package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/registry"
	"github.com/artpar/berth/internal/shell/runtime"
)

// reconcileConcurrency caps how many projects a reconcile pass inspects at
// once.
const reconcileConcurrency = 4

// =============================================================================
// Retention
// =============================================================================

// Cleanup prunes a project's oldest records beyond keepCount, removing their
// containers along the way. A keepCount of zero or less uses the configured
// default. Returns how many records were removed.
func (s *Service) Cleanup(ctx context.Context, projectID string, keepCount int) (int, error) {
	if keepCount <= 0 {
		keepCount = s.opts.KeepCount
	}

	records, err := s.listPtrs(ctx, projectID)
	if err != nil {
		return 0, err
	}

	_, evicted := deployment.SplitByRetention(records, keepCount)
	removed := 0
	for _, victim := range evicted {
		if s.evict(ctx, victim.ID) {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Cleaned up old deployments",
			"project_id", projectID,
			"removed", removed,
			"kept", keepCount)
	}
	return removed, nil
}

// CleanupAll applies retention across every known project. Per-project
// failures are logged and skipped so one bad project cannot stall the sweep.
func (s *Service) CleanupAll(ctx context.Context, keepCount int) (int, error) {
	projects, err := s.registry.ListProjects(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, projectID := range projects {
		removed, err := s.Cleanup(ctx, projectID, keepCount)
		if err != nil {
			s.logger.Warn("Retention sweep failed for project",
				"project_id", projectID,
				"error", err)
			continue
		}
		total += removed
	}
	return total, nil
}

// evict removes one record and its container. Records or containers that are
// already gone are tolerated; only a completed delete counts.
func (s *Service) evict(ctx context.Context, id string) bool {
	s.lanes.lock(id)
	defer s.lanes.unlock(id)

	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			s.logger.Warn("Cannot load deployment for eviction", "deployment_id", id, "error", err)
		}
		return false
	}

	s.cancelPump(id)

	if rec.ContainerRef != "" {
		adapter, err := s.targets.ForTarget(ctx, rec.Target)
		if err != nil {
			s.logger.Warn("Cannot resolve target during eviction",
				"deployment_id", id,
				"target", rec.Target,
				"error", err)
		} else if err := adapter.Remove(ctx, rec.ContainerRef); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			s.logger.Warn("Cannot remove container during eviction",
				"deployment_id", id,
				"container_ref", rec.ContainerRef,
				"error", err)
		}
	}

	if err := s.registry.Delete(ctx, id); err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			s.logger.Warn("Cannot delete deployment record", "deployment_id", id, "error", err)
		}
		return false
	}

	s.logger.Info("Evicted old deployment", "deployment_id", id, "project_id", rec.ProjectID)
	return true
}

// =============================================================================
// Reconciliation
// =============================================================================

// Reconcile checks that each project's newest running deployment still has a
// live container and fails the record when it does not. Older running
// records are left untouched; they remain the rollback pool.
func (s *Service) Reconcile(ctx context.Context) error {
	projects, err := s.registry.ListProjects(ctx)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, reconcileConcurrency)
	var wg sync.WaitGroup
	for _, projectID := range projects {
		wg.Add(1)
		sem <- struct{}{}
		go func(projectID string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.reconcileProject(ctx, projectID)
		}(projectID)
	}
	wg.Wait()
	return nil
}

// reconcileProject inspects the newest running record of one project.
func (s *Service) reconcileProject(ctx context.Context, projectID string) {
	records, err := s.registry.GetByProject(ctx, projectID)
	if err != nil {
		s.logger.Warn("Cannot list project during reconcile", "project_id", projectID, "error", err)
		return
	}

	var newest *domain.Deployment
	for i := range records {
		if records[i].Status == domain.StatusRunning {
			newest = &records[i]
			break
		}
	}
	if newest == nil {
		return
	}

	s.lanes.lock(newest.ID)
	defer s.lanes.unlock(newest.ID)

	// Re-read under the lane; an in-flight stop or rollback may have moved
	// the record since the listing.
	rec, err := s.registry.Get(ctx, newest.ID)
	if err != nil || rec.Status != domain.StatusRunning {
		return
	}

	if rec.ContainerRef == "" {
		s.cancelPump(rec.ID)
		s.fail(ctx, rec, "container missing from runtime")
		return
	}

	adapter, err := s.targets.ForTarget(ctx, rec.Target)
	if err != nil {
		s.logger.Warn("Cannot resolve target during reconcile",
			"deployment_id", rec.ID,
			"target", rec.Target,
			"error", err)
		return
	}

	state, err := adapter.Inspect(ctx, rec.ContainerRef)
	switch {
	case errors.Is(err, runtime.ErrContainerNotFound):
		s.cancelPump(rec.ID)
		s.fail(ctx, rec, "container missing from runtime")
	case err != nil:
		s.logger.Warn("Inspect failed during reconcile",
			"deployment_id", rec.ID,
			"container_ref", rec.ContainerRef,
			"error", err)
	case !state.Running:
		s.cancelPump(rec.ID)
		s.fail(ctx, rec, fmt.Sprintf("container exited with code %d", state.ExitCode))
	}
}
