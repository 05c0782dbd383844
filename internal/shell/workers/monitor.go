// Package workers contains background workers for Berth.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reconciler is the slice of the deployment service the monitor drives.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// MonitorConfig configures the deployment monitor worker.
type MonitorConfig struct {
	// Interval is the time between reconcile cycles.
	// Default: 30 seconds.
	Interval time.Duration
}

// DefaultMonitorConfig returns the default configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 30 * time.Second,
	}
}

// Monitor periodically reconciles deployment records against the container
// runtime, failing records whose containers died.
type Monitor struct {
	service Reconciler
	config  MonitorConfig
	logger  *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a new deployment monitor worker.
func NewMonitor(service Reconciler, config MonitorConfig, logger *slog.Logger) *Monitor {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		service: service,
		config:  config,
		logger:  logger.With("component", "monitor"),
	}
}

// Start begins the monitor background goroutine.
func (m *Monitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.run()

	m.logger.Info("Deployment monitor started", "interval", m.config.Interval)
}

// Stop gracefully stops the monitor. It waits for any in-progress cycle to
// complete.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Deployment monitor stopped")
}

// run is the main loop that reconciles periodically.
func (m *Monitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.runCycle()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

// runCycle executes a single reconcile pass.
func (m *Monitor) runCycle() {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.Interval)
	defer cancel()

	if err := m.service.Reconcile(ctx); err != nil {
		m.logger.Error("Reconcile cycle failed", "error", err)
	}
}
