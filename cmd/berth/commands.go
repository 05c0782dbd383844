package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/bus"
	"github.com/artpar/berth/internal/shell/deploy"
	"github.com/artpar/berth/internal/shell/registry"
	"github.com/artpar/berth/internal/shell/runtime"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitUsageError    = 2
	ExitRegistryError = 3
	ExitCommandError  = 4
	ExitDeployFailed  = 5
)

// =============================================================================
// Dispatch
// =============================================================================

// dispatch routes the command to the appropriate handler.
func dispatch(configPath, cmd string, args []string) int {
	switch cmd {
	case "deploy":
		return deployCmd(configPath, args)
	case "stop":
		return stopCmd(configPath, args)
	case "rollback":
		return rollbackCmd(configPath, args)
	case "get":
		return getCmd(configPath, args)
	case "list":
		return listCmd(configPath, args)
	case "logs":
		return logsCmd(configPath, args)
	case "stats":
		return statsCmd(configPath)
	case "cleanup":
		return cleanupCmd(configPath, args)
	case "agent":
		return agentCmd(configPath)
	case "version":
		fmt.Printf("berth %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "help":
		printUsage(os.Stdout)
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		return ExitUsageError
	}
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, `usage: berth [-config path] <command> [args...]

Commands:
  deploy -f <manifest> [-detach] [-timeout d]  Deploy from a YAML manifest
  stop <deployment-id>                         Stop a deployment
  rollback [-detach] [-timeout d] <project-id> Roll back to the previous image
  get <deployment-id>                          Show one deployment record
  list <project-id>                            List a project's deployments
  logs [-f] <deployment-id>                    Print a deployment's logs
  stats                                        Show deployment counts
  cleanup <project-id> [keep]                  Prune old deployment records
  agent                                        Run the long-lived agent
  version                                      Show version`)
}

// =============================================================================
// Stack Wiring
// =============================================================================

// stack bundles the wired subsystems a one-shot command works against.
type stack struct {
	config   *Config
	registry *registry.SQLiteRegistry
	pool     *runtime.TargetPool
	service  *deploy.Service
	logger   *slog.Logger
}

// openStack loads config and wires the registry, target pool, bus, and
// deployment controller. Commands log to stderr; stdout carries command
// output only.
func openStack(configPath string) (*stack, int) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, ExitConfigError
	}

	logger := SetupLogger(cfg, os.Stderr)

	reg, err := registry.NewSQLiteRegistry(cfg.Registry.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "registry error: %v\n", err)
		return nil, ExitRegistryError
	}

	pool := runtime.NewTargetPool(context.Background(), cfg.LocalTarget(), cfg.NamedTargets(), logger)

	svc := deploy.New(reg, pool, bus.New(logger), logger, deploy.Options{
		ReadyTimeout:      cfg.Deploy.ReadyTimeout,
		ReadyPollInterval: cfg.Deploy.ReadyPollInterval,
		StopGrace:         cfg.Deploy.StopGrace,
		KeepCount:         cfg.Deploy.KeepCount,
	})

	return &stack{
		config:   cfg,
		registry: reg,
		pool:     pool,
		service:  svc,
		logger:   logger,
	}, ExitSuccess
}

func (s *stack) close() {
	s.service.Close()
	if err := s.pool.CloseAll(); err != nil {
		s.logger.Warn("Closing runtime adapters failed", "error", err)
	}
	if err := s.registry.Close(); err != nil {
		s.logger.Warn("Closing registry failed", "error", err)
	}
}

// =============================================================================
// Output Helpers
// =============================================================================

// outputJSON writes indented JSON to stdout.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}

// commandFailed reports an error on stderr and picks the exit code.
func commandFailed(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return ExitCommandError
}

// waitForOutcome polls until the deployment settles in running, failed, or
// stopped.
func waitForOutcome(ctx context.Context, svc *deploy.Service, id string, timeout time.Duration) (*domain.Deployment, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		rec, err := svc.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch rec.Status {
		case domain.StatusRunning, domain.StatusFailed, domain.StatusStopped:
			return rec, nil
		}

		select {
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for deployment %s after %s", id, timeout)
		case <-ticker.C:
		}
	}
}

// followProgress prints the deployment's log lines to stderr while a command
// waits for convergence.
func followProgress(s *stack, id string) func() {
	cancel, err := s.service.StreamLogs(context.Background(), id, func(entry domain.LogEntry) {
		fmt.Fprintf(os.Stderr, "%s  %s\n", entry.Timestamp.Format("15:04:05"), entry.Message)
	})
	if err != nil {
		return func() {}
	}
	return cancel
}

// =============================================================================
// Commands
// =============================================================================

// deployCmd handles "berth deploy".
func deployCmd(configPath string, args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	manifestPath := fs.String("f", "", "Path to deployment manifest")
	detach := fs.Bool("detach", false, "Return once the deployment is registered")
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for convergence")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "usage: berth deploy -f <manifest> [-detach] [-timeout d]")
		return ExitUsageError
	}

	cfg, err := LoadManifest(*manifestPath)
	if err != nil {
		return commandFailed(err)
	}

	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	ctx := context.Background()
	rec, err := s.service.Create(ctx, cfg)
	if err != nil {
		return commandFailed(err)
	}

	if *detach {
		outputJSON(rec)
		return ExitSuccess
	}

	stopFollowing := followProgress(s, rec.ID)
	defer stopFollowing()

	final, err := waitForOutcome(ctx, s.service, rec.ID, *timeout)
	if err != nil {
		return commandFailed(err)
	}

	outputJSON(final)
	if final.Status != domain.StatusRunning {
		return ExitDeployFailed
	}
	return ExitSuccess
}

// stopCmd handles "berth stop".
func stopCmd(configPath string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: berth stop <deployment-id>")
		return ExitUsageError
	}
	id := args[0]

	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	ctx := context.Background()
	if err := s.service.Stop(ctx, id); err != nil {
		return commandFailed(err)
	}

	rec, err := s.service.Get(ctx, id)
	if err != nil {
		return commandFailed(err)
	}
	outputJSON(rec)
	return ExitSuccess
}

// rollbackCmd handles "berth rollback".
func rollbackCmd(configPath string, args []string) int {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	detach := fs.Bool("detach", false, "Return once the rollback is registered")
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for convergence")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: berth rollback [-detach] [-timeout d] <project-id>")
		return ExitUsageError
	}
	projectID := fs.Arg(0)

	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	ctx := context.Background()
	rec, err := s.service.Rollback(ctx, projectID)
	if err != nil {
		return commandFailed(err)
	}

	if *detach {
		outputJSON(rec)
		return ExitSuccess
	}

	stopFollowing := followProgress(s, rec.ID)
	defer stopFollowing()

	final, err := waitForOutcome(ctx, s.service, rec.ID, *timeout)
	if err != nil {
		return commandFailed(err)
	}

	outputJSON(final)
	if final.Status != domain.StatusRunning {
		return ExitDeployFailed
	}
	return ExitSuccess
}

// getCmd handles "berth get".
func getCmd(configPath string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: berth get <deployment-id>")
		return ExitUsageError
	}

	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	rec, err := s.service.Get(context.Background(), args[0])
	if err != nil {
		return commandFailed(err)
	}
	outputJSON(rec)
	return ExitSuccess
}

// listCmd handles "berth list".
func listCmd(configPath string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: berth list <project-id>")
		return ExitUsageError
	}

	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	records, err := s.service.ListByProject(context.Background(), args[0])
	if err != nil {
		return commandFailed(err)
	}
	outputJSON(records)
	return ExitSuccess
}

// logsCmd handles "berth logs". The stored transcript is printed first; with
// -f the command stays subscribed until interrupted.
func logsCmd(configPath string, args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	follow := fs.Bool("f", false, "Keep following log lines until interrupted")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: berth logs [-f] <deployment-id>")
		return ExitUsageError
	}
	id := fs.Arg(0)

	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	ctx := context.Background()
	rec, err := s.service.Get(ctx, id)
	if err != nil {
		return commandFailed(err)
	}

	fmt.Print(rec.Logs)

	if !*follow {
		return ExitSuccess
	}

	cancel, err := s.service.StreamLogs(ctx, id, func(entry domain.LogEntry) {
		fmt.Printf("%s [%s] %s\n", entry.Timestamp.Format(time.RFC3339), entry.Origin, entry.Message)
	})
	if err != nil {
		return commandFailed(err)
	}
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return ExitSuccess
}

// statsCmd handles "berth stats".
func statsCmd(configPath string) int {
	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	stats, err := s.service.Stats(context.Background())
	if err != nil {
		return commandFailed(err)
	}
	outputJSON(stats)
	return ExitSuccess
}

// cleanupCmd handles "berth cleanup".
func cleanupCmd(configPath string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: berth cleanup <project-id> [keep]")
		return ExitUsageError
	}
	projectID := args[0]

	keep := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			fmt.Fprintf(os.Stderr, "invalid keep count: %s\n", args[1])
			return ExitUsageError
		}
		keep = n
	}

	s, code := openStack(configPath)
	if s == nil {
		return code
	}
	defer s.close()

	removed, err := s.service.Cleanup(context.Background(), projectID, keep)
	if err != nil {
		return commandFailed(err)
	}
	outputJSON(map[string]int{"removed": removed})
	return ExitSuccess
}
