package workers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mocks
// =============================================================================

type mockReconciler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockReconciler) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *mockReconciler) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPruner struct {
	mu       sync.Mutex
	calls    int
	lastKeep int
	removed  int
	err      error
	panics   bool
}

func (m *mockPruner) CleanupAll(ctx context.Context, keepCount int) (int, error) {
	m.mu.Lock()
	m.calls++
	m.lastKeep = keepCount
	m.mu.Unlock()

	if m.panics {
		panic("sweep blew up")
	}
	return m.removed, m.err
}

func (m *mockPruner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockPruner) keepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastKeep
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Monitor
// =============================================================================

func TestDefaultMonitorConfig(t *testing.T) {
	config := DefaultMonitorConfig()

	assert.Equal(t, 30*time.Second, config.Interval)
}

func TestNewMonitor_DefaultConfig(t *testing.T) {
	m := NewMonitor(&mockReconciler{}, MonitorConfig{}, nil)

	assert.NotNil(t, m)
	assert.Equal(t, 30*time.Second, m.config.Interval)
}

func TestMonitor_RunsImmediately(t *testing.T) {
	rec := &mockReconciler{}
	m := NewMonitor(rec, MonitorConfig{Interval: time.Hour}, testLogger())

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return rec.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_RunsPeriodically(t *testing.T) {
	rec := &mockReconciler{}
	m := NewMonitor(rec, MonitorConfig{Interval: 20 * time.Millisecond}, testLogger())

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return rec.callCount() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_StartStop(t *testing.T) {
	m := NewMonitor(&mockReconciler{}, MonitorConfig{Interval: 50 * time.Millisecond}, testLogger())

	m.Start()
	m.Stop()

	// Should be able to start again
	m.Start()
	m.Stop()
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor(&mockReconciler{}, MonitorConfig{}, testLogger())

	// Should not panic
	m.Stop()
}

// =============================================================================
// Retention Sweeper
// =============================================================================

func TestDefaultRetentionConfig(t *testing.T) {
	config := DefaultRetentionConfig()

	assert.Equal(t, "@every 1h", config.Schedule)
	assert.Zero(t, config.KeepCount)
}

func TestNewRetentionSweeper_DefaultConfig(t *testing.T) {
	s := NewRetentionSweeper(&mockPruner{}, RetentionConfig{}, nil)

	assert.NotNil(t, s)
	assert.Equal(t, "@every 1h", s.config.Schedule)
}

func TestRetentionSweeper_Sweeps(t *testing.T) {
	pruner := &mockPruner{removed: 2}
	s := NewRetentionSweeper(pruner, RetentionConfig{
		Schedule:  "@every 50ms",
		KeepCount: 3,
	}, testLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return pruner.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, pruner.keepCount())
}

func TestRetentionSweeper_BadSchedule(t *testing.T) {
	s := NewRetentionSweeper(&mockPruner{}, RetentionConfig{Schedule: "bogus"}, testLogger())

	require.Error(t, s.Start())
}

func TestRetentionSweeper_RecoversFromPanic(t *testing.T) {
	pruner := &mockPruner{panics: true}
	s := NewRetentionSweeper(pruner, RetentionConfig{Schedule: "@every 30ms"}, testLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	// The scheduler survives a panicking sweep and keeps firing.
	require.Eventually(t, func() bool {
		return pruner.callCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetentionSweeper_StopWithoutStart(t *testing.T) {
	s := NewRetentionSweeper(&mockPruner{}, RetentionConfig{}, testLogger())

	// Should not panic
	s.Stop()
}
