package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/berth/internal/shell/runtime"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Log      LogConfig      `mapstructure:"log"`
}

// RegistryConfig holds deployment registry configuration.
type RegistryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RuntimeConfig holds container runtime configuration.
type RuntimeConfig struct {
	// Host overrides the local daemon address. Empty uses the environment
	// (DOCKER_HOST or the default socket).
	Host string `mapstructure:"host"`

	// EndpointHost is the hostname written into local deployment endpoints.
	EndpointHost string `mapstructure:"endpoint_host"`

	// Targets are named remote deployment targets.
	Targets []TargetConfig `mapstructure:"targets"`
}

// TargetConfig describes one named deployment target.
type TargetConfig struct {
	Name         string     `mapstructure:"name"`
	Host         string     `mapstructure:"host"`
	EndpointHost string     `mapstructure:"endpoint_host"`
	SSH          *SSHConfig `mapstructure:"ssh"`
}

// SSHConfig describes how to tunnel to a remote daemon.
type SSHConfig struct {
	Addr         string        `mapstructure:"addr"`
	User         string        `mapstructure:"user"`
	KeyPath      string        `mapstructure:"key_path"`
	RemoteSocket string        `mapstructure:"remote_socket"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DeployConfig holds deployment controller tuning.
type DeployConfig struct {
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout"`
	ReadyPollInterval time.Duration `mapstructure:"ready_poll_interval"`
	StopGrace         time.Duration `mapstructure:"stop_grace"`
	KeepCount         int           `mapstructure:"keep_count"`
}

// AgentConfig holds agent mode configuration.
type AgentConfig struct {
	// MonitorInterval is how often the agent reconciles records against the
	// runtime.
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`

	// RetentionSchedule is a cron spec or @every duration for the retention
	// sweep.
	RetentionSchedule string `mapstructure:"retention_schedule"`

	// MetricsAddr is the Prometheus listen address. Empty disables the
	// metrics listener.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("registry.dsn", "./data/berth.db")
	v.SetDefault("runtime.host", "")
	v.SetDefault("runtime.endpoint_host", "localhost")
	v.SetDefault("deploy.ready_timeout", "30s")
	v.SetDefault("deploy.ready_poll_interval", "500ms")
	v.SetDefault("deploy.stop_grace", "10s")
	v.SetDefault("deploy.keep_count", 5)
	v.SetDefault("agent.monitor_interval", "30s")
	v.SetDefault("agent.retention_schedule", "@every 1h")
	v.SetDefault("agent.metrics_addr", "")
	v.SetDefault("agent.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Registry.DSN == "" {
		return fmt.Errorf("registry.dsn must not be empty")
	}

	seen := make(map[string]bool)
	for _, target := range c.Runtime.Targets {
		if target.Name == "" {
			return fmt.Errorf("runtime.targets entries must be named")
		}
		if seen[target.Name] {
			return fmt.Errorf("duplicate runtime target %q", target.Name)
		}
		seen[target.Name] = true

		if target.SSH != nil {
			if target.SSH.Addr == "" || target.SSH.User == "" || target.SSH.KeyPath == "" {
				return fmt.Errorf("runtime target %q: ssh needs addr, user, and key_path", target.Name)
			}
		} else if target.Host == "" {
			return fmt.Errorf("runtime target %q: needs host or ssh", target.Name)
		}
	}

	return nil
}

// =============================================================================
// Target Mapping
// =============================================================================

// LocalTarget returns the local deployment target.
func (c *Config) LocalTarget() runtime.TargetConfig {
	return runtime.TargetConfig{
		Host:         c.Runtime.Host,
		EndpointHost: c.Runtime.EndpointHost,
	}
}

// NamedTargets returns the configured remote targets in runtime form.
func (c *Config) NamedTargets() []runtime.TargetConfig {
	targets := make([]runtime.TargetConfig, 0, len(c.Runtime.Targets))
	for _, t := range c.Runtime.Targets {
		rt := runtime.TargetConfig{
			Name:         t.Name,
			Host:         t.Host,
			EndpointHost: t.EndpointHost,
		}
		if t.SSH != nil {
			rt.SSH = &runtime.SSHConfig{
				Addr:         t.SSH.Addr,
				User:         t.SSH.User,
				KeyPath:      t.SSH.KeyPath,
				RemoteSocket: t.SSH.RemoteSocket,
				Timeout:      t.SSH.Timeout,
			}
		}
		targets = append(targets, rt)
	}
	return targets
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format writing
// to w. The agent logs to stdout; one-shot commands log to stderr so stdout
// stays parseable.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
