package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultRetentionSchedule = "@every 1h"

// Pruner is the slice of the deployment service the retention sweeper drives.
type Pruner interface {
	CleanupAll(ctx context.Context, keepCount int) (int, error)
}

// RetentionConfig configures the retention sweeper.
type RetentionConfig struct {
	// Schedule is a cron spec or @every duration.
	// Default: @every 1h.
	Schedule string

	// KeepCount is how many records each project retains. Zero defers to
	// the deployment service's default.
	KeepCount int
}

// DefaultRetentionConfig returns the default configuration.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Schedule: defaultRetentionSchedule,
	}
}

// RetentionSweeper prunes old deployment records on a schedule.
type RetentionSweeper struct {
	service Pruner
	config  RetentionConfig
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewRetentionSweeper creates a new retention sweeper.
func NewRetentionSweeper(service Pruner, config RetentionConfig, logger *slog.Logger) *RetentionSweeper {
	if config.Schedule == "" {
		config.Schedule = defaultRetentionSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetentionSweeper{
		service: service,
		config:  config,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger.With("component", "retention"),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *RetentionSweeper) Start() error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		defer s.recoverPanic()
		s.sweep()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Retention sweeper started", "schedule", s.config.Schedule)
	return nil
}

// Stop halts the scheduler and waits briefly for a running sweep to finish.
func (s *RetentionSweeper) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(2 * time.Second):
	}
	s.logger.Info("Retention sweeper stopped")
}

func (s *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := s.service.CleanupAll(ctx, s.config.KeepCount)
	if err != nil {
		s.logger.Warn("Retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("Retention sweep removed deployments", "removed", removed)
	}
}

func (s *RetentionSweeper) recoverPanic() {
	if r := recover(); r != nil {
		s.logger.Error("Retention sweep panicked", "panic", r)
	}
}
