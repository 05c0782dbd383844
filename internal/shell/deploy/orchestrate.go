package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/bus"
	"github.com/artpar/berth/internal/shell/runtime"
)

// =============================================================================
// Supervised Tasks
// =============================================================================

// runDeploy is the supervised task behind Create. It owns the record from
// pending through running or failed.
func (s *Service) runDeploy(id string, cfg domain.DeploymentConfig) {
	defer s.tasks.Done()
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic during deployment", "deployment_id", id, "panic", r)
			s.failByID(ctx, id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	s.lanes.lock(id)
	defer s.lanes.unlock(id)

	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		s.logger.Error("Deployment vanished before orchestration", "deployment_id", id, "error", err)
		return
	}
	// A stop that won the lane first already moved the record on.
	if rec.Status != domain.StatusPending {
		s.logger.Info("Skipping orchestration for non-pending deployment",
			"deployment_id", id,
			"status", string(rec.Status))
		return
	}

	s.orchestrate(ctx, rec, cfg)
}

// runRollback is the supervised task behind Rollback. The record is already
// in rolling_back with the previous image written in.
func (s *Service) runRollback(id string) {
	defer s.tasks.Done()
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic during rollback", "deployment_id", id, "panic", r)
			s.failByID(ctx, id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	s.lanes.lock(id)
	defer s.lanes.unlock(id)

	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		s.logger.Error("Deployment vanished before rollback", "deployment_id", id, "error", err)
		return
	}
	if rec.Status != domain.StatusRollingBack {
		s.logger.Info("Skipping rollback for deployment no longer rolling back",
			"deployment_id", id,
			"status", string(rec.Status))
		return
	}

	s.orchestrate(ctx, rec, configForRollback(rec))
}

// =============================================================================
// Orchestration
// =============================================================================

// orchestrate runs the deploy steps for a record whose lane the caller holds.
// Fresh deployments walk pending -> building -> deploying -> running; a
// rollback enters in rolling_back and converges straight to running. Any
// failed step drives the record to failed with the step's error.
func (s *Service) orchestrate(ctx context.Context, rec *domain.Deployment, cfg domain.DeploymentConfig) {
	// Step 1: Resolve the runtime adapter for the record's target
	adapter, err := s.targets.ForTarget(ctx, rec.Target)
	if err != nil {
		s.fail(ctx, rec, fmt.Sprintf("resolve target %q: %v", rec.Target, err))
		return
	}

	// Step 2: Resolve the image
	if rec.Status == domain.StatusPending {
		if err := s.transition(ctx, rec, domain.StatusBuilding); err != nil {
			s.fail(ctx, rec, fmt.Sprintf("enter building: %v", err))
			return
		}
	}

	s.progress(rec, domain.SeverityInfo, fmt.Sprintf("resolving image %s", rec.ImageRef()))
	if _, err := adapter.ResolveImage(ctx, rec.Image, rec.Tag); err != nil {
		// Pull failures are not fatal. The create below settles whether a
		// local copy exists.
		s.progress(rec, domain.SeverityWarn, fmt.Sprintf("image pull failed, trying local copy: %v", err))
		s.logger.Warn("Image pull failed, falling back to local image",
			"deployment_id", rec.ID,
			"image", rec.ImageRef(),
			"error", err)
	}

	// Step 3: Clear the slot and start the container
	if rec.Status == domain.StatusBuilding {
		if err := s.transition(ctx, rec, domain.StatusDeploying); err != nil {
			s.fail(ctx, rec, fmt.Sprintf("enter deploying: %v", err))
			return
		}
	}

	s.progress(rec, domain.SeverityInfo, fmt.Sprintf("clearing slot %s", rec.Slot))
	if err := adapter.Preempt(ctx, rec.Slot); err != nil {
		s.fail(ctx, rec, fmt.Sprintf("clear slot %s: %v", rec.Slot, err))
		return
	}

	spec := buildContainerSpec(rec, cfg)
	s.progress(rec, domain.SeverityInfo, fmt.Sprintf("starting container %s", spec.Name))
	ref, err := adapter.CreateAndStart(ctx, spec)
	if err != nil {
		s.fail(ctx, rec, fmt.Sprintf("start container: %v", err))
		return
	}
	rec.ContainerRef = ref

	// Step 4: Wait for the container to report running
	if err := s.waitReady(ctx, adapter, ref); err != nil {
		s.fail(ctx, rec, err.Error())
		return
	}

	// Step 5: Attach the log pump and publish the endpoint
	s.attachPump(rec.ID, adapter, ref)

	rec.Endpoint = deployment.Endpoint(s.targets.EndpointHost(rec.Target), rec.Ports)
	s.progress(rec, domain.SeverityInfo, fmt.Sprintf("deployment is live at %s", rec.Endpoint))
	if err := s.transition(ctx, rec, domain.StatusRunning); err != nil {
		s.fail(ctx, rec, fmt.Sprintf("enter running: %v", err))
		return
	}
}

// waitReady polls the container until it reports running. It fails fast when
// the container exits and gives up after the configured ready timeout.
func (s *Service) waitReady(ctx context.Context, adapter runtime.Adapter, ref string) error {
	deadline := time.After(s.opts.ReadyTimeout)
	ticker := time.NewTicker(s.opts.ReadyPollInterval)
	defer ticker.Stop()

	for {
		state, err := adapter.Inspect(ctx, ref)
		if err != nil {
			return fmt.Errorf("inspect container: %w", err)
		}
		if state.Running {
			return nil
		}
		if state.Status == "exited" {
			return fmt.Errorf("container exited with code %d before becoming ready", state.ExitCode)
		}

		select {
		case <-deadline:
			return fmt.Errorf("%w after %s", ErrStartupTimeout, s.opts.ReadyTimeout)
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Log Pump
// =============================================================================

// attachPump starts the deployment's log pump, replacing any previous one.
// Container output flows to the bus only; the record's transcript holds
// orchestration steps, not container chatter.
func (s *Service) attachPump(id string, adapter runtime.Adapter, ref string) {
	onLine := func(origin domain.LogOrigin, line string) {
		s.bus.Publish(bus.LogLine{ID: id, Entry: domain.NewLogEntry(origin, line)})
	}

	cancel, err := adapter.StreamLogs(context.Background(), ref, onLine)
	if err != nil {
		s.logger.Warn("Cannot attach log stream",
			"deployment_id", id,
			"container_ref", ref,
			"error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	prev := s.pumps[id]
	s.pumps[id] = cancel
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// cancelPump stops the deployment's log pump if one is attached.
func (s *Service) cancelPump(id string) {
	s.mu.Lock()
	cancel, ok := s.pumps[id]
	if ok {
		delete(s.pumps, id)
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// =============================================================================
// Spec Mapping
// =============================================================================

// buildContainerSpec maps a record and its config onto the runtime's
// container shape. The container is named after the slot so a redeploy
// preempts its predecessor.
func buildContainerSpec(rec *domain.Deployment, cfg domain.DeploymentConfig) runtime.ContainerSpec {
	spec := runtime.ContainerSpec{
		Name:  rec.Slot,
		Image: rec.ImageRef(),
		Env:   cfg.Environment,
		Labels: map[string]string{
			runtime.LabelManaged:    "true",
			runtime.LabelProject:    rec.ProjectID,
			runtime.LabelDeployment: rec.ID,
			runtime.LabelSlot:       rec.Slot,
		},
		RestartPolicy: runtime.RestartPolicy{Name: "unless-stopped"},
		Resources: runtime.ResourceLimits{
			CPULimit:    cfg.Resources.CPU,
			MemoryLimit: cfg.Resources.MemoryBytes,
		},
	}

	for _, port := range rec.Ports {
		spec.Ports = append(spec.Ports, runtime.PortBinding{
			ContainerPort: port,
			HostPort:      port,
			Protocol:      "tcp",
		})
	}

	for source, target := range cfg.Volumes {
		spec.Volumes = append(spec.Volumes, runtime.VolumeMount{
			Source: volumeSource(rec.Slot, source),
			Target: target,
		})
	}

	if hc := cfg.HealthCheck; hc != nil {
		spec.HealthCheck = &runtime.HealthCheck{
			Test:        hc.Command,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			Retries:     hc.Retries,
			StartPeriod: hc.StartPeriod,
		}
	}

	return spec
}

// volumeSource maps one volume source onto the runtime. Path sources bind
// mount as given; bare names are named volumes, prefixed with the slot so
// projects never share one by accident.
func volumeSource(slot, source string) string {
	if strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".") || strings.HasPrefix(source, "~") {
		return source
	}
	return deployment.VolumeName(slot, source)
}

// configForRollback rebuilds a deploy config from the persisted record.
// Records do not retain environment, volumes, or health checks, so a rolled
// back container starts from the image, ports, and target alone.
func configForRollback(rec *domain.Deployment) domain.DeploymentConfig {
	return domain.DeploymentConfig{
		ProjectID:   rec.ProjectID,
		ProjectName: rec.ProjectName,
		Slot:        rec.Slot,
		Image:       rec.Image,
		Tag:         rec.Tag,
		Ports:       append([]int(nil), rec.Ports...),
		Target:      rec.Target,
	}
}
