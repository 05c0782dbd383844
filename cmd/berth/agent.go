package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/berth/internal/shell/bus"
	"github.com/artpar/berth/internal/shell/deploy"
	"github.com/artpar/berth/internal/shell/metrics"
	"github.com/artpar/berth/internal/shell/registry"
	"github.com/artpar/berth/internal/shell/runtime"
	"github.com/artpar/berth/internal/shell/workers"
)

// agentCmd handles "berth agent".
func agentCmd(configPath string) int {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg, os.Stdout)
	logger.Info("starting berth agent",
		"version", Version,
		"config", configPath,
	)

	agent, err := NewAgent(cfg, logger)
	if err != nil {
		var aErr *AgentError
		if errors.As(err, &aErr) {
			logger.Error("failed to create agent",
				"error", aErr.Err,
				"operation", aErr.Op,
			)
			return aErr.ExitCode
		}
		logger.Error("failed to create agent", "error", err)
		return ExitConfigError
	}

	if err := agent.Start(context.Background()); err != nil {
		var aErr *AgentError
		if errors.As(err, &aErr) {
			logger.Error("agent error",
				"error", aErr.Err,
				"operation", aErr.Op,
			)
			return aErr.ExitCode
		}
		logger.Error("agent error", "error", err)
		return ExitCommandError
	}

	return ExitSuccess
}

// =============================================================================
// Agent
// =============================================================================

// Agent is the long-lived berth process: the deployment controller plus its
// background workers and the optional metrics listener.
type Agent struct {
	config        *Config
	registry      *registry.SQLiteRegistry
	pool          *runtime.TargetPool
	service       *deploy.Service
	observer      *metrics.Observer
	monitor       *workers.Monitor
	retention     *workers.RetentionSweeper
	metricsServer *http.Server
	logger        *slog.Logger
}

// NewAgent wires the full stack with the given config.
func NewAgent(cfg *Config, logger *slog.Logger) (*Agent, error) {
	reg, err := registry.NewSQLiteRegistry(cfg.Registry.DSN)
	if err != nil {
		return nil, &AgentError{
			Op:       "NewAgent",
			Err:      err,
			ExitCode: ExitRegistryError,
		}
	}

	ctx := context.Background()
	pool := runtime.NewTargetPool(ctx, cfg.LocalTarget(), cfg.NamedTargets(), logger)

	eventBus := bus.New(logger)
	observer := metrics.NewObserver(eventBus, logger)

	service := deploy.New(reg, pool, eventBus, logger, deploy.Options{
		ReadyTimeout:      cfg.Deploy.ReadyTimeout,
		ReadyPollInterval: cfg.Deploy.ReadyPollInterval,
		StopGrace:         cfg.Deploy.StopGrace,
		KeepCount:         cfg.Deploy.KeepCount,
	})

	monitor := workers.NewMonitor(service, workers.MonitorConfig{
		Interval: cfg.Agent.MonitorInterval,
	}, logger)

	retention := workers.NewRetentionSweeper(service, workers.RetentionConfig{
		Schedule:  cfg.Agent.RetentionSchedule,
		KeepCount: cfg.Deploy.KeepCount,
	}, logger)

	var metricsServer *http.Server
	if cfg.Agent.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Agent.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return &Agent{
		config:        cfg,
		registry:      reg,
		pool:          pool,
		service:       service,
		observer:      observer,
		monitor:       monitor,
		retention:     retention,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Start starts the workers and blocks until shutdown.
func (a *Agent) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a.observer.Start()
	a.monitor.Start()

	if err := a.retention.Start(); err != nil {
		a.monitor.Stop()
		a.observer.Stop()
		return &AgentError{
			Op:       "Start",
			Err:      fmt.Errorf("retention sweeper: %w", err),
			ExitCode: ExitConfigError,
		}
	}

	// Start metrics listener in goroutine
	errCh := make(chan error, 1)
	if a.metricsServer != nil {
		go func() {
			a.logger.Info("starting metrics listener",
				"address", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	a.logger.Info("agent ready",
		"registry", a.config.Registry.DSN,
		"targets", a.pool.AdapterCount(),
	)

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		a.Shutdown(context.Background())
		return &AgentError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitCommandError,
		}
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the workers and closes the stack.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Agent.ShutdownTimeout)
	defer cancel()

	// Shutdown metrics listener
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics listener shutdown error", "error", err)
		}
	}

	// Stop background workers before draining the controller
	a.retention.Stop()
	a.monitor.Stop()

	// Drain in-flight orchestration and close the bus
	if err := a.service.Close(); err != nil {
		a.logger.Error("deployment service close error", "error", err)
	}

	// The observer's subscription ended with the bus
	a.observer.Stop()

	// Close runtime adapters
	if err := a.pool.CloseAll(); err != nil {
		a.logger.Error("runtime pool close error", "error", err)
	}

	// Close the registry
	if err := a.registry.Close(); err != nil {
		a.logger.Error("registry close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Agent Error
// =============================================================================

// AgentError represents an error during agent operation.
type AgentError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AgentError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
