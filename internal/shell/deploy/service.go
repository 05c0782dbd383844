// Package deploy is the deployment lifecycle controller: it owns the status
// state machine, drives orchestration against the runtime adapter, and is the
// only writer of deployment records.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/bus"
	"github.com/artpar/berth/internal/shell/registry"
	"github.com/artpar/berth/internal/shell/runtime"
)

// =============================================================================
// Options
// =============================================================================

// Options tunes the controller's timing and retention behavior.
type Options struct {
	// ReadyPollInterval is how often a starting container is inspected.
	ReadyPollInterval time.Duration

	// ReadyTimeout bounds the wait for a container to report running.
	ReadyTimeout time.Duration

	// StopGrace is how long a container gets to exit before being killed.
	StopGrace time.Duration

	// KeepCount is the per-project retention cap used when a cleanup call
	// does not name one.
	KeepCount int
}

// DefaultOptions returns the default controller options.
func DefaultOptions() Options {
	return Options{
		ReadyPollInterval: 500 * time.Millisecond,
		ReadyTimeout:      30 * time.Second,
		StopGrace:         10 * time.Second,
		KeepCount:         deployment.DefaultKeepCount,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = def.ReadyPollInterval
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = def.ReadyTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = def.StopGrace
	}
	if o.KeepCount <= 0 {
		o.KeepCount = def.KeepCount
	}
	return o
}

// =============================================================================
// Service
// =============================================================================

// LogSink receives one deployment log entry per call.
type LogSink func(domain.LogEntry)

// Service is the deployment lifecycle controller.
type Service struct {
	registry registry.Registry
	targets  runtime.Resolver
	bus      *bus.Bus
	logger   *slog.Logger
	opts     Options

	lanes *laneSet

	mu     sync.Mutex
	pumps  map[string]runtime.CancelFunc
	closed bool

	tasks sync.WaitGroup
}

// New creates the controller. The registry, target resolver, and bus are
// owned by the caller except that Close closes the bus, which ends every
// subscriber.
func New(reg registry.Registry, targets runtime.Resolver, b *bus.Bus, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: reg,
		targets:  targets,
		bus:      b,
		logger:   logger.With("component", "deploy"),
		opts:     opts.withDefaults(),
		lanes:    newLaneSet(),
		pumps:    make(map[string]runtime.CancelFunc),
	}
}

// =============================================================================
// Create
// =============================================================================

// Create registers a new deployment and returns it in the pending status.
// Orchestration continues asynchronously; callers observe progress via Get or
// a bus subscription. The only synchronous failures are validation and
// persistence.
func (s *Service) Create(ctx context.Context, cfg domain.DeploymentConfig) (*domain.Deployment, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Slot == "" {
		cfg.Slot = deployment.SlotName(cfg.ProjectID)
	}

	rec, err := domain.NewDeployment(cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	if err := s.registry.Upsert(ctx, rec); err != nil {
		s.tasks.Done()
		return nil, err
	}

	s.bus.Publish(bus.DeploymentCreated{Record: rec})
	s.logger.Info("Deployment created",
		"deployment_id", rec.ID,
		"project_id", rec.ProjectID,
		"image", rec.ImageRef(),
		"target", rec.Target)

	// Orchestration outlives the caller's request context.
	go s.runDeploy(rec.ID, cfg)

	snapshot := *rec
	return &snapshot, nil
}

// =============================================================================
// Stop
// =============================================================================

// Stop halts a deployment's container and finishes the record in stopped.
// It runs synchronously, queueing behind any in-flight orchestration for the
// same deployment.
func (s *Service) Stop(ctx context.Context, id string) error {
	s.lanes.lock(id)
	defer s.lanes.unlock(id)

	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.transition(ctx, rec, domain.StatusStopping); err != nil {
		return err
	}

	s.cancelPump(id)

	adapter, err := s.targets.ForTarget(ctx, rec.Target)
	if err != nil {
		s.logger.Warn("Cannot resolve target during stop, skipping container teardown",
			"deployment_id", id,
			"target", rec.Target,
			"error", err)
	} else if rec.ContainerRef != "" {
		if err := adapter.Stop(ctx, rec.ContainerRef, s.opts.StopGrace); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			s.progress(rec, domain.SeverityWarn, fmt.Sprintf("stop container: %v", err))
		}
		if err := adapter.Remove(ctx, rec.ContainerRef); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			s.progress(rec, domain.SeverityWarn, fmt.Sprintf("remove container: %v", err))
		}
	}

	return s.transition(ctx, rec, domain.StatusStopped)
}

// =============================================================================
// Rollback
// =============================================================================

// Rollback redeploys the previous running image of a project onto its current
// deployment. The current record is returned in rolling_back with the
// previous image, tag, and ports already written in; a supervised task then
// re-runs the deploy steps, converging to running or failed. Environment and
// volume bindings are not restored; records do not carry them.
func (s *Service) Rollback(ctx context.Context, projectID string) (*domain.Deployment, error) {
	records, err := s.listPtrs(ctx, projectID)
	if err != nil {
		return nil, err
	}

	plan, err := deployment.PlanRollback(records)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s", err, projectID)
	}

	s.lanes.lock(plan.Current.ID)
	defer s.lanes.unlock(plan.Current.ID)

	// Re-read under the lane; the snapshot may be stale by now.
	rec, err := s.registry.Get(ctx, plan.Current.ID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.StatusRunning {
		return nil, fmt.Errorf("%w: project %s", ErrRollbackUnavailable, projectID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	s.cancelPump(rec.ID)

	from := rec.Status
	rec.Image = plan.Previous.Image
	rec.Tag = plan.Previous.Tag
	rec.Ports = append([]int(nil), plan.Previous.Ports...)
	if err := rec.Transition(domain.StatusRollingBack); err != nil {
		s.tasks.Done()
		return nil, err
	}
	s.progress(rec, domain.SeverityInfo, fmt.Sprintf("rolling back to %s", rec.ImageRef()))

	if err := s.registry.Upsert(ctx, rec); err != nil {
		s.tasks.Done()
		return nil, err
	}
	s.bus.Publish(bus.StatusChanged{ID: rec.ID, From: from, To: rec.Status})
	s.logger.Info("Rollback started",
		"deployment_id", rec.ID,
		"project_id", projectID,
		"image", rec.ImageRef())

	go s.runRollback(rec.ID)

	snapshot := *rec
	return &snapshot, nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns one deployment record.
func (s *Service) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	return s.registry.Get(ctx, id)
}

// ListByProject returns a project's records, newest first.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]*domain.Deployment, error) {
	return s.listPtrs(ctx, projectID)
}

// Stats summarizes record counts across all projects.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	counts, err := s.registry.CountByStatus(ctx)
	if err != nil {
		return domain.Stats{}, err
	}

	stats := domain.Stats{
		Running: counts[domain.StatusRunning],
		Failed:  counts[domain.StatusFailed],
		Stopped: counts[domain.StatusStopped],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// StreamLogs delivers the deployment's log lines to sink until the returned
// cancel runs. Only lines published while the subscription is live are seen.
func (s *Service) StreamLogs(ctx context.Context, id string, sink LogSink) (bus.CancelFunc, error) {
	if _, err := s.registry.Get(ctx, id); err != nil {
		return nil, err
	}

	events, cancel := s.bus.Subscribe(id)
	go func() {
		for event := range events {
			if line, ok := event.(bus.LogLine); ok {
				sink(line.Entry)
			}
		}
	}()

	return cancel, nil
}

func (s *Service) listPtrs(ctx context.Context, projectID string) ([]*domain.Deployment, error) {
	records, err := s.registry.GetByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*domain.Deployment, len(records))
	for i := range records {
		ptrs[i] = &records[i]
	}
	return ptrs, nil
}

// =============================================================================
// Shutdown
// =============================================================================

// Close stops accepting work, waits for in-flight orchestration tasks,
// cancels the log pumps, and closes the bus.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.tasks.Wait()

	s.mu.Lock()
	pumps := s.pumps
	s.pumps = make(map[string]runtime.CancelFunc)
	s.mu.Unlock()
	for _, cancel := range pumps {
		cancel()
	}

	s.bus.Close()
	s.logger.Info("Deployment service closed")
	return nil
}

// =============================================================================
// Shared Helpers
// =============================================================================

// transition moves a record through the state machine, persists it, and
// publishes the change.
func (s *Service) transition(ctx context.Context, rec *domain.Deployment, to domain.DeploymentStatus) error {
	from := rec.Status
	if err := rec.Transition(to); err != nil {
		return err
	}
	if err := s.registry.Upsert(ctx, rec); err != nil {
		return err
	}

	s.bus.Publish(bus.StatusChanged{ID: rec.ID, From: from, To: to})
	s.logger.Info("Deployment status changed",
		"deployment_id", rec.ID,
		"from", string(from),
		"to", string(to))
	return nil
}

// fail drives a record to failed with the given message and persists it.
// Errors here are logged, never returned; failing is the last resort already.
func (s *Service) fail(ctx context.Context, rec *domain.Deployment, msg string) {
	from := rec.Status
	rec.AppendLog("failed: " + msg)
	if err := rec.TransitionToFailed(msg); err != nil {
		s.logger.Error("Cannot mark deployment failed",
			"deployment_id", rec.ID,
			"status", string(rec.Status),
			"error", err)
		return
	}
	if err := s.registry.Upsert(ctx, rec); err != nil {
		s.logger.Error("Failed to persist failed deployment",
			"deployment_id", rec.ID,
			"error", err)
	}

	s.bus.Publish(bus.StatusChanged{ID: rec.ID, From: from, To: domain.StatusFailed, Error: msg})
	s.logger.Error("Deployment failed",
		"deployment_id", rec.ID,
		"project_id", rec.ProjectID,
		"error", msg)
}

// failByID loads the record and fails it. Used where the in-memory record is
// unavailable or untrusted, e.g. after a recovered panic.
func (s *Service) failByID(ctx context.Context, id, msg string) {
	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		s.logger.Error("Cannot load deployment to fail it", "deployment_id", id, "error", err)
		return
	}
	if rec.Status.IsTerminal() {
		return
	}
	s.fail(ctx, rec, msg)
}

// progress appends a line to the record's orchestration transcript and
// publishes it as a log event. The transcript is persisted with the next
// registry write, not one write per line.
func (s *Service) progress(rec *domain.Deployment, severity domain.LogSeverity, msg string) {
	rec.AppendLog(msg)
	s.bus.Publish(bus.LogLine{ID: rec.ID, Entry: domain.LogEntry{
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Origin:    domain.OriginStdout,
		Message:   msg,
	}})
}
