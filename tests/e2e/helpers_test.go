// Package e2e provides end-to-end testing utilities for Berth.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/bus"
)

// =============================================================================
// Deployment Helpers
// =============================================================================

// discardLogger returns a logger for components whose output the suite does
// not need.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a deployment config for one test project. Tests tweak
// the returned value before deploying when they need more than the defaults.
func testConfig(projectID, tag string) domain.DeploymentConfig {
	return domain.DeploymentConfig{
		ProjectID:   projectID,
		ProjectName: "E2E " + projectID,
		Image:       "demo/app",
		Tag:         tag,
		Ports:       []int{8080},
	}
}

// deployAndWait creates a deployment and waits until it converges to running.
func deployAndWait(t *testing.T, cfg domain.DeploymentConfig) *domain.Deployment {
	t.Helper()

	rec, err := testService.Create(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, rec.Status)
	require.NotEmpty(t, rec.ID)

	return waitForStatus(t, rec.ID, domain.StatusRunning)
}

// waitForStatus polls a deployment until it reaches the wanted status and
// returns the record as last read.
func waitForStatus(t *testing.T, id string, want domain.DeploymentStatus) *domain.Deployment {
	t.Helper()

	var rec *domain.Deployment
	require.Eventually(t, func() bool {
		r, err := testService.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 10*time.Second, 20*time.Millisecond, "deployment %s never reached status %s", id, want)
	return rec
}

// =============================================================================
// Event Capture
// =============================================================================

// eventCapture records bus events from the firehose. Subscribe before the
// operation under test starts so the window covers its whole lifecycle.
type eventCapture struct {
	mu     sync.Mutex
	events []bus.Event
	cancel bus.CancelFunc
}

// captureEvents starts recording the bus firehose until the test ends.
func captureEvents(t *testing.T) *eventCapture {
	t.Helper()

	events, cancel := testBus.SubscribeAll()
	c := &eventCapture{cancel: cancel}

	go func() {
		for event := range events {
			c.mu.Lock()
			c.events = append(c.events, event)
			c.mu.Unlock()
		}
	}()

	t.Cleanup(c.Stop)
	return c
}

// Stop ends the capture.
func (c *eventCapture) Stop() {
	c.cancel()
}

// ForDeployment returns the captured events for one deployment, in order.
func (c *eventCapture) ForDeployment(id string) []bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []bus.Event
	for _, event := range c.events {
		if event.DeploymentID() == id {
			out = append(out, event)
		}
	}
	return out
}

// Statuses returns the transition targets seen for one deployment, in order.
func (c *eventCapture) Statuses(id string) []domain.DeploymentStatus {
	var out []domain.DeploymentStatus
	for _, event := range c.ForDeployment(id) {
		if change, ok := event.(bus.StatusChanged); ok {
			out = append(out, change.To)
		}
	}
	return out
}

// LogMessages returns the log lines seen for one deployment, in order.
func (c *eventCapture) LogMessages(id string) []string {
	var out []string
	for _, event := range c.ForDeployment(id) {
		if line, ok := event.(bus.LogLine); ok {
			out = append(out, line.Entry.Message)
		}
	}
	return out
}
