package e2e

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/workers"
)

// =============================================================================
// Container Monitor
// =============================================================================

// TestE2E_MonitorFailsDeadContainer kills a container behind the service's
// back and verifies the monitor drives the record to failed.
func TestE2E_MonitorFailsDeadContainer(t *testing.T) {
	ctx := context.Background()

	rec := deployAndWait(t, testConfig("e2e-monitor", "1.0"))

	// Kill the container directly, the way a crash would.
	adapter, err := testPool.ForTarget(ctx, "")
	require.NoError(t, err)
	require.NoError(t, adapter.Stop(ctx, rec.ContainerRef, 0))

	monitor := workers.NewMonitor(testService, workers.MonitorConfig{
		Interval: 30 * time.Millisecond,
	}, discardLogger())
	monitor.Start()
	defer monitor.Stop()

	failed := waitForStatus(t, rec.ID, domain.StatusFailed)
	assert.Contains(t, failed.ErrorMessage, "container exited")
	assert.Empty(t, failed.Endpoint)

	t.Log("PASS: Monitor failed the dead container")
}

// =============================================================================
// Retention Sweeper
// =============================================================================

// TestE2E_RetentionSweeper deploys past the cap and verifies the scheduled
// sweep prunes the project without being asked.
func TestE2E_RetentionSweeper(t *testing.T) {
	for i := 0; i < 8; i++ {
		deployAndWait(t, testConfig("e2e-retention", fmt.Sprintf("1.%d", i)))
	}

	sweeper := workers.NewRetentionSweeper(testService, workers.RetentionConfig{
		Schedule:  "@every 50ms",
		KeepCount: 5,
	}, discardLogger())
	require.NoError(t, sweeper.Start())
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		records, err := testService.ListByProject(context.Background(), "e2e-retention")
		return err == nil && len(records) == 5
	}, 5*time.Second, 50*time.Millisecond, "sweeper never pruned the project")

	t.Log("PASS: Retention sweeper pruned the project")
}

// =============================================================================
// Metrics
// =============================================================================

// TestE2E_MetricsScrape deploys once and scrapes the Prometheus handler the
// agent serves, checking the observer counted the lifecycle.
func TestE2E_MetricsScrape(t *testing.T) {
	deployAndWait(t, testConfig("e2e-metrics", "1.0"))

	// The observer consumes the bus asynchronously; scrape until it catches up.
	require.Eventually(t, func() bool {
		recorder := httptest.NewRecorder()
		promhttp.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
		body := recorder.Body.String()
		return strings.Contains(body, `berth_deployments_created_total{project="e2e-metrics"} 1`) &&
			strings.Contains(body, "berth_deployments_running")
	}, 5*time.Second, 50*time.Millisecond, "scrape never showed the deployment")

	t.Log("PASS: Metrics scrape reflected the deployment")
}
