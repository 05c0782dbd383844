package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/bus"
	"github.com/artpar/berth/internal/shell/registry"
	"github.com/artpar/berth/internal/shell/runtime"
)

// =============================================================================
// Test Doubles
// =============================================================================

// stubResolver hands every target the same adapter.
type stubResolver struct {
	adapter runtime.Adapter
	host    string
}

func (r *stubResolver) ForTarget(ctx context.Context, target string) (runtime.Adapter, error) {
	return r.adapter, nil
}

func (r *stubResolver) EndpointHost(target string) string {
	return r.host
}

// adapterHooks wraps an adapter and lets a test override individual calls.
type adapterHooks struct {
	runtime.Adapter

	resolveImage   func(ctx context.Context, image, tag string) (string, error)
	createAndStart func(ctx context.Context, spec runtime.ContainerSpec) (string, error)
	inspect        func(ctx context.Context, ref string) (runtime.ContainerState, error)
}

func (h *adapterHooks) ResolveImage(ctx context.Context, image, tag string) (string, error) {
	if h.resolveImage != nil {
		return h.resolveImage(ctx, image, tag)
	}
	return h.Adapter.ResolveImage(ctx, image, tag)
}

func (h *adapterHooks) CreateAndStart(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if h.createAndStart != nil {
		return h.createAndStart(ctx, spec)
	}
	return h.Adapter.CreateAndStart(ctx, spec)
}

func (h *adapterHooks) Inspect(ctx context.Context, ref string) (runtime.ContainerState, error) {
	if h.inspect != nil {
		return h.inspect(ctx, ref)
	}
	return h.Adapter.Inspect(ctx, ref)
}

// =============================================================================
// Helpers
// =============================================================================

func setupTestService(t *testing.T, hooks *adapterHooks) (*Service, *runtime.SimAdapter) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := registry.NewSQLiteRegistry(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	sim := runtime.NewSimAdapter(logger)
	var adapter runtime.Adapter = sim
	if hooks != nil {
		hooks.Adapter = sim
		adapter = hooks
	}

	svc := New(reg, &stubResolver{adapter: adapter, host: "localhost"}, bus.New(logger), logger, Options{
		ReadyPollInterval: 10 * time.Millisecond,
		ReadyTimeout:      250 * time.Millisecond,
		StopGrace:         time.Second,
	})
	t.Cleanup(func() { svc.Close() })

	return svc, sim
}

func testConfig(projectID string) domain.DeploymentConfig {
	return domain.DeploymentConfig{
		ProjectID:   projectID,
		ProjectName: "Test " + projectID,
		Image:       "demo/app",
		Tag:         "1.0",
		Ports:       []int{3000},
	}
}

func waitForStatus(t *testing.T, svc *Service, id string, want domain.DeploymentStatus) *domain.Deployment {
	t.Helper()

	var rec *domain.Deployment
	require.Eventually(t, func() bool {
		var err error
		rec, err = svc.Get(context.Background(), id)
		return err == nil && rec.Status == want
	}, 5*time.Second, 10*time.Millisecond, "deployment %s never reached %s", id, want)
	return rec
}

func deployRunning(t *testing.T, svc *Service, cfg domain.DeploymentConfig) *domain.Deployment {
	t.Helper()

	rec, err := svc.Create(context.Background(), cfg)
	require.NoError(t, err)
	return waitForStatus(t, svc, rec.ID, domain.StatusRunning)
}

// seedRecord plants a record directly in the service's registry, bypassing
// orchestration.
func seedRecord(t *testing.T, svc *Service, projectID string, status domain.DeploymentStatus, createdAt time.Time) *domain.Deployment {
	t.Helper()

	rec, err := domain.NewDeployment(testConfig(projectID))
	require.NoError(t, err)
	rec.Slot = "berth_" + projectID
	rec.Status = status
	rec.CreatedAt = createdAt
	rec.UpdatedAt = createdAt
	require.NoError(t, svc.registry.Upsert(context.Background(), rec))
	return rec
}

// =============================================================================
// Create
// =============================================================================

func TestService_Create_ConvergesToRunning(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	rec, err := svc.Create(context.Background(), testConfig("proj-web"))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, "berth_proj-web", rec.Slot)

	final := waitForStatus(t, svc, rec.ID, domain.StatusRunning)
	assert.Equal(t, "http://localhost:3000", final.Endpoint)
	assert.NotNil(t, final.DeployedAt)
	assert.True(t, strings.HasPrefix(final.ContainerRef, "sim-"), "container ref %q", final.ContainerRef)
	assert.Empty(t, final.ErrorMessage)

	assert.Contains(t, final.Logs, "resolving image demo/app:1.0")
	assert.Contains(t, final.Logs, "starting container berth_proj-web")
	assert.Contains(t, final.Logs, "deployment is live at http://localhost:3000")
}

func TestService_Create_CustomSlotPreserved(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	cfg := testConfig("proj-slotted")
	cfg.Slot = "berth_custom"

	rec, err := svc.Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "berth_custom", rec.Slot)
}

func TestService_Create_ContainerSpecMapping(t *testing.T) {
	var mu sync.Mutex
	var captured runtime.ContainerSpec
	hooks := &adapterHooks{}
	hooks.createAndStart = func(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
		mu.Lock()
		captured = spec
		mu.Unlock()
		return hooks.Adapter.CreateAndStart(ctx, spec)
	}
	svc, _ := setupTestService(t, hooks)

	cfg := testConfig("proj-spec")
	cfg.Environment = map[string]string{"APP_ENV": "production"}
	cfg.Volumes = map[string]string{
		"data":          "/var/lib/app",
		"/host/uploads": "/uploads",
	}
	cfg.HealthCheck = &domain.HealthCheckSpec{
		Command:  []string{"CMD", "curl", "-f", "http://localhost:3000/health"},
		Interval: 10 * time.Second,
		Timeout:  3 * time.Second,
		Retries:  3,
	}

	rec, err := svc.Create(context.Background(), cfg)
	require.NoError(t, err)
	waitForStatus(t, svc, rec.ID, domain.StatusRunning)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "berth_proj-spec", captured.Name)
	assert.Equal(t, "demo/app:1.0", captured.Image)
	assert.Equal(t, "production", captured.Env["APP_ENV"])
	assert.Equal(t, "true", captured.Labels[runtime.LabelManaged])
	assert.Equal(t, rec.ID, captured.Labels[runtime.LabelDeployment])
	assert.Equal(t, "unless-stopped", captured.RestartPolicy.Name)
	assert.Equal(t, domain.DefaultMemoryLimit, captured.Resources.MemoryLimit)

	// Path sources bind mount as given; bare names are namespaced per slot.
	require.Len(t, captured.Volumes, 2)
	sources := map[string]string{}
	for _, v := range captured.Volumes {
		sources[v.Target] = v.Source
	}
	assert.Equal(t, "berth_proj-spec_data", sources["/var/lib/app"])
	assert.Equal(t, "/host/uploads", sources["/uploads"])

	require.NotNil(t, captured.HealthCheck)
	assert.Equal(t, cfg.HealthCheck.Command, captured.HealthCheck.Test)
	assert.Equal(t, 3, captured.HealthCheck.Retries)
}

func TestService_Create_InvalidConfig(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	cfg := testConfig("proj-invalid")
	cfg.Image = ""

	_, err := svc.Create(context.Background(), cfg)
	require.ErrorIs(t, err, domain.ErrMissingImage)
}

func TestService_Create_PullFailureFallsBackToLocalImage(t *testing.T) {
	hooks := &adapterHooks{
		resolveImage: func(ctx context.Context, image, tag string) (string, error) {
			return image + ":" + tag, runtime.NewRuntimeError("pull", image, "registry unreachable", runtime.ErrImagePull)
		},
	}
	svc, _ := setupTestService(t, hooks)

	rec, err := svc.Create(context.Background(), testConfig("proj-localimg"))
	require.NoError(t, err)

	// The pull failed but the create succeeded, so a local copy carried the
	// deployment through.
	final := waitForStatus(t, svc, rec.ID, domain.StatusRunning)
	assert.Contains(t, final.Logs, "image pull failed, trying local copy")
}

func TestService_Create_ImageMissingEverywhere(t *testing.T) {
	hooks := &adapterHooks{
		resolveImage: func(ctx context.Context, image, tag string) (string, error) {
			return image + ":" + tag, runtime.NewRuntimeError("pull", image, "image not found in registry", runtime.ErrImageNotFound)
		},
		createAndStart: func(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
			return "", runtime.NewRuntimeError("create", spec.Name, "no such image", runtime.ErrImageNotFound)
		},
	}
	svc, _ := setupTestService(t, hooks)

	rec, err := svc.Create(context.Background(), testConfig("proj-noimage"))
	require.NoError(t, err)

	final := waitForStatus(t, svc, rec.ID, domain.StatusFailed)
	assert.Contains(t, final.ErrorMessage, "start container")
	assert.Empty(t, final.Endpoint)
}

func TestService_Create_StartupTimeout(t *testing.T) {
	hooks := &adapterHooks{
		inspect: func(ctx context.Context, ref string) (runtime.ContainerState, error) {
			return runtime.ContainerState{Running: false, Status: "created"}, nil
		},
	}
	svc, _ := setupTestService(t, hooks)

	rec, err := svc.Create(context.Background(), testConfig("proj-stuck"))
	require.NoError(t, err)

	final := waitForStatus(t, svc, rec.ID, domain.StatusFailed)
	assert.Contains(t, final.ErrorMessage, "timed out")
}

func TestService_Create_ContainerExitsDuringStartup(t *testing.T) {
	hooks := &adapterHooks{
		inspect: func(ctx context.Context, ref string) (runtime.ContainerState, error) {
			return runtime.ContainerState{Running: false, Status: "exited", ExitCode: 2}, nil
		},
	}
	svc, _ := setupTestService(t, hooks)

	rec, err := svc.Create(context.Background(), testConfig("proj-crash"))
	require.NoError(t, err)

	final := waitForStatus(t, svc, rec.ID, domain.StatusFailed)
	assert.Contains(t, final.ErrorMessage, "exited with code 2")
}

func TestService_Create_AfterClose(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	require.NoError(t, svc.Close())

	_, err := svc.Create(context.Background(), testConfig("proj-late"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestService_Close_WaitsForInflightDeploy(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	rec, err := svc.Create(context.Background(), testConfig("proj-drain"))
	require.NoError(t, err)

	// Close blocks until the orchestration task is done, so the record must
	// have left pending by the time it returns.
	require.NoError(t, svc.Close())

	final, err := svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, final.Status)
}

func TestService_Create_RedeployPreemptsPredecessor(t *testing.T) {
	svc, sim := setupTestService(t, nil)
	ctx := context.Background()

	first := deployRunning(t, svc, testConfig("proj-redeploy"))

	cfg := testConfig("proj-redeploy")
	cfg.Tag = "2.0"
	second := deployRunning(t, svc, cfg)
	require.NotEqual(t, first.ID, second.ID)

	// The old container shared the slot and was preempted. Its record keeps
	// the running status it last persisted.
	_, err := sim.Inspect(ctx, first.ContainerRef)
	require.ErrorIs(t, err, runtime.ErrContainerNotFound)

	stale, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, stale.Status)
}

func TestService_ConcurrentCreates(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := testConfig(fmt.Sprintf("proj-conc-%d", i))
			cfg.Slot = fmt.Sprintf("berth_conc_%d", i)
			rec, err := svc.Create(context.Background(), cfg)
			if err == nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.NotEmpty(t, id)
		waitForStatus(t, svc, id, domain.StatusRunning)
	}
}

// =============================================================================
// Stop
// =============================================================================

func TestService_Stop_RunningDeployment(t *testing.T) {
	svc, sim := setupTestService(t, nil)
	ctx := context.Background()

	rec := deployRunning(t, svc, testConfig("proj-stop"))

	require.NoError(t, svc.Stop(ctx, rec.ID))

	final, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, final.Status)
	assert.Empty(t, final.Endpoint)

	_, err = sim.Inspect(ctx, rec.ContainerRef)
	require.ErrorIs(t, err, runtime.ErrContainerNotFound)
}

func TestService_Stop_UnknownDeployment(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	err := svc.Stop(context.Background(), "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_Stop_FailedDeployment(t *testing.T) {
	hooks := &adapterHooks{
		createAndStart: func(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
			return "", runtime.ErrConnectionFailed
		},
	}
	svc, _ := setupTestService(t, hooks)

	rec, err := svc.Create(context.Background(), testConfig("proj-stopfail"))
	require.NoError(t, err)
	waitForStatus(t, svc, rec.ID, domain.StatusFailed)

	err = svc.Stop(context.Background(), rec.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestService_Stop_PendingDeployment(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx := context.Background()

	rec := seedRecord(t, svc, "proj-pend", domain.StatusPending, time.Now().UTC())

	require.NoError(t, svc.Stop(ctx, rec.ID))

	final, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, final.Status)
}

// =============================================================================
// Rollback
// =============================================================================

func TestService_Rollback_Success(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx := context.Background()

	deployRunning(t, svc, testConfig("proj-roll"))

	cfg := testConfig("proj-roll")
	cfg.Tag = "2.0"
	current := deployRunning(t, svc, cfg)

	rolled, err := svc.Rollback(ctx, "proj-roll")
	require.NoError(t, err)
	assert.Equal(t, current.ID, rolled.ID)
	assert.Equal(t, domain.StatusRollingBack, rolled.Status)
	assert.Equal(t, "1.0", rolled.Tag)

	final := waitForStatus(t, svc, rolled.ID, domain.StatusRunning)
	assert.Equal(t, "demo/app", final.Image)
	assert.Equal(t, "1.0", final.Tag)
	assert.Equal(t, "http://localhost:3000", final.Endpoint)
	assert.Contains(t, final.Logs, "rolling back to demo/app:1.0")
}

func TestService_Rollback_SingleDeployment(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	deployRunning(t, svc, testConfig("proj-solo"))

	_, err := svc.Rollback(context.Background(), "proj-solo")
	require.ErrorIs(t, err, ErrRollbackUnavailable)
}

func TestService_Rollback_UnknownProject(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	_, err := svc.Rollback(context.Background(), "proj-ghost")
	require.ErrorIs(t, err, ErrRollbackUnavailable)
}

func TestService_Rollback_NoRunningRecords(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	now := time.Now().UTC()
	seedRecord(t, svc, "proj-dead", domain.StatusFailed, now.Add(-2*time.Minute))
	seedRecord(t, svc, "proj-dead", domain.StatusStopped, now.Add(-time.Minute))

	_, err := svc.Rollback(context.Background(), "proj-dead")
	require.ErrorIs(t, err, ErrRollbackUnavailable)
}

func TestService_Rollback_StoppedOutFromUnder(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx := context.Background()

	deployRunning(t, svc, testConfig("proj-race"))
	cfg := testConfig("proj-race")
	cfg.Tag = "2.0"
	current := deployRunning(t, svc, cfg)

	require.NoError(t, svc.Stop(ctx, current.ID))

	_, err := svc.Rollback(ctx, "proj-race")
	require.ErrorIs(t, err, ErrRollbackUnavailable)
}

// =============================================================================
// Queries
// =============================================================================

func TestService_ListByProject_NewestFirst(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	now := time.Now().UTC()
	old := seedRecord(t, svc, "proj-list", domain.StatusStopped, now.Add(-time.Hour))
	recent := seedRecord(t, svc, "proj-list", domain.StatusRunning, now)

	records, err := svc.ListByProject(context.Background(), "proj-list")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, recent.ID, records[0].ID)
	assert.Equal(t, old.ID, records[1].ID)
}

func TestService_Get_UnknownDeployment(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	_, err := svc.Get(context.Background(), "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_Stats(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	now := time.Now().UTC()
	seedRecord(t, svc, "proj-stats-a", domain.StatusRunning, now)
	seedRecord(t, svc, "proj-stats-a", domain.StatusRunning, now.Add(-time.Minute))
	seedRecord(t, svc, "proj-stats-b", domain.StatusFailed, now)
	seedRecord(t, svc, "proj-stats-b", domain.StatusStopped, now.Add(-time.Minute))
	seedRecord(t, svc, "proj-stats-c", domain.StatusPending, now)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Stopped)
}

// =============================================================================
// Log Streaming
// =============================================================================

func TestService_StreamLogs_DeliversOrchestrationLines(t *testing.T) {
	gate := make(chan struct{})
	hooks := &adapterHooks{
		resolveImage: func(ctx context.Context, image, tag string) (string, error) {
			<-gate
			return image + ":" + tag, nil
		},
	}
	svc, _ := setupTestService(t, hooks)
	ctx := context.Background()

	rec, err := svc.Create(ctx, testConfig("proj-logs"))
	require.NoError(t, err)

	var mu sync.Mutex
	var lines []string
	cancel, err := svc.StreamLogs(ctx, rec.ID, func(entry domain.LogEntry) {
		mu.Lock()
		lines = append(lines, entry.Message)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	// Orchestration is parked on the image resolve hook; every line from
	// here on is published while the subscription is live.
	close(gate)
	waitForStatus(t, svc, rec.ID, domain.StatusRunning)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, line := range lines {
			if strings.Contains(line, "deployment is live") {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	joined := strings.Join(lines, "\n")
	mu.Unlock()
	assert.Contains(t, joined, "clearing slot berth_proj-logs")
	assert.Contains(t, joined, "starting container berth_proj-logs")
}

func TestService_StreamLogs_UnknownDeployment(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	_, err := svc.StreamLogs(context.Background(), "no-such-id", func(domain.LogEntry) {})
	require.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Cleanup
// =============================================================================

func TestService_Cleanup_RetainsNewest(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	var all []*domain.Deployment
	for i := 0; i < 7; i++ {
		rec := seedRecord(t, svc, "proj-prune", domain.StatusStopped, now.Add(time.Duration(i)*time.Minute))
		all = append(all, rec)
	}

	removed, err := svc.Cleanup(ctx, "proj-prune", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	records, err := svc.ListByProject(ctx, "proj-prune")
	require.NoError(t, err)
	require.Len(t, records, 5)

	// The two oldest are gone.
	_, err = svc.Get(ctx, all[0].ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, all[1].ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_Cleanup_UnderLimit(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	now := time.Now().UTC()
	seedRecord(t, svc, "proj-small", domain.StatusStopped, now)

	removed, err := svc.Cleanup(context.Background(), "proj-small", 5)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestService_Cleanup_RemovesContainers(t *testing.T) {
	svc, sim := setupTestService(t, nil)
	ctx := context.Background()

	// Six full deployments, each preempting the last. Only the newest
	// container survives in the runtime.
	var ids []string
	for i := 0; i < 6; i++ {
		cfg := testConfig("proj-prune-live")
		cfg.Tag = fmt.Sprintf("1.%d", i)
		rec := deployRunning(t, svc, cfg)
		ids = append(ids, rec.ID)
	}

	removed, err := svc.Cleanup(ctx, "proj-prune-live", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = svc.Get(ctx, ids[0])
	require.ErrorIs(t, err, ErrNotFound)

	records, err := svc.ListByProject(ctx, "proj-prune-live")
	require.NoError(t, err)
	assert.Len(t, records, 5)

	// The newest deployment is untouched.
	newest, err := svc.Get(ctx, ids[5])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, newest.Status)
	_, err = sim.Inspect(ctx, newest.ContainerRef)
	require.NoError(t, err)
}

func TestService_CleanupAll(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		seedRecord(t, svc, "proj-all-a", domain.StatusStopped, now.Add(time.Duration(i)*time.Minute))
		seedRecord(t, svc, "proj-all-b", domain.StatusStopped, now.Add(time.Duration(i)*time.Minute))
	}

	removed, err := svc.CleanupAll(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

// =============================================================================
// Reconcile
// =============================================================================

func TestService_Reconcile_FailsExitedContainer(t *testing.T) {
	svc, sim := setupTestService(t, nil)
	ctx := context.Background()

	rec := deployRunning(t, svc, testConfig("proj-watch"))

	// The container dies behind the controller's back.
	require.NoError(t, sim.Stop(ctx, rec.ContainerRef, time.Second))

	require.NoError(t, svc.Reconcile(ctx))

	final, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "container exited")
}

func TestService_Reconcile_FailsMissingContainer(t *testing.T) {
	svc, sim := setupTestService(t, nil)
	ctx := context.Background()

	rec := deployRunning(t, svc, testConfig("proj-gone"))

	require.NoError(t, sim.Remove(ctx, rec.ContainerRef))

	require.NoError(t, svc.Reconcile(ctx))

	final, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "container missing")
}

func TestService_Reconcile_HealthyUntouched(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx := context.Background()

	rec := deployRunning(t, svc, testConfig("proj-fine"))

	require.NoError(t, svc.Reconcile(ctx))

	final, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, final.Status)
}

func TestService_Reconcile_ChecksOnlyNewestRunning(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx := context.Background()

	// The first deployment's container is preempted by the second, but its
	// record still reads running. Reconcile must not fail it; it is the
	// rollback candidate.
	first := deployRunning(t, svc, testConfig("proj-pair"))
	cfg := testConfig("proj-pair")
	cfg.Tag = "2.0"
	second := deployRunning(t, svc, cfg)

	require.NoError(t, svc.Reconcile(ctx))

	staleFirst, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, staleFirst.Status)

	freshSecond, err := svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, freshSecond.Status)
}
