package metrics

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/bus"
)

func setupObserver(t *testing.T) (*bus.Bus, *Observer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	o := NewObserver(b, logger)
	o.Start()
	t.Cleanup(func() {
		o.Stop()
		b.Close()
	})
	return b, o
}

// waitCount polls until the counter reaches want.
func waitCount(t *testing.T, c prometheus.Counter, want float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c) >= want
	}, time.Second, 5*time.Millisecond)
}

func TestObserver_CountsCreated(t *testing.T) {
	b, o := setupObserver(t)

	d, err := domain.NewDeployment(domain.DeploymentConfig{ProjectID: "metrics-created", Image: "nginx"})
	require.NoError(t, err)

	before := testutil.ToFloat64(o.created.With(prometheus.Labels{"project": "metrics-created"}))
	b.Publish(bus.DeploymentCreated{Record: d})

	waitCount(t, o.created.With(prometheus.Labels{"project": "metrics-created"}), before+1)
}

func TestObserver_CountsTransitionsAndRunningGauge(t *testing.T) {
	b, o := setupObserver(t)

	runningBefore := testutil.ToFloat64(o.running)
	toRunningBefore := testutil.ToFloat64(o.transitions.With(prometheus.Labels{"to": "running"}))

	b.Publish(bus.StatusChanged{ID: "dep-1", From: domain.StatusDeploying, To: domain.StatusRunning})
	waitCount(t, o.transitions.With(prometheus.Labels{"to": "running"}), toRunningBefore+1)
	assert.Equal(t, runningBefore+1, testutil.ToFloat64(o.running))

	toStoppingBefore := testutil.ToFloat64(o.transitions.With(prometheus.Labels{"to": "stopping"}))
	b.Publish(bus.StatusChanged{ID: "dep-1", From: domain.StatusRunning, To: domain.StatusStopping})
	waitCount(t, o.transitions.With(prometheus.Labels{"to": "stopping"}), toStoppingBefore+1)
	assert.Equal(t, runningBefore, testutil.ToFloat64(o.running))
}

func TestObserver_CountsLogLines(t *testing.T) {
	b, o := setupObserver(t)

	before := testutil.ToFloat64(o.logLines.With(prometheus.Labels{"origin": "stderr"}))

	b.Publish(bus.LogLine{ID: "dep-1", Entry: domain.NewLogEntry(domain.OriginStderr, "boom")})
	b.Publish(bus.LogLine{ID: "dep-1", Entry: domain.NewLogEntry(domain.OriginStderr, "boom again")})

	waitCount(t, o.logLines.With(prometheus.Labels{"origin": "stderr"}), before+2)
}

func TestObserver_SecondObserverReusesCollectors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	defer b.Close()

	o1 := NewObserver(b, logger)
	o2 := NewObserver(b, logger)

	// Registration tolerates the duplicate and shares the collector
	assert.Same(t, o1.created, o2.created)
	assert.Equal(t, o1.running, o2.running)
}

func TestObserver_StartStopIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	defer b.Close()

	o := NewObserver(b, logger)
	o.Start()
	o.Start()
	o.Stop()
	o.Stop()
}
