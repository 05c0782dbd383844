package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
)

// =============================================================================
// Target Configuration
// =============================================================================

// TargetConfig describes one deployment target: where its runtime lives and
// how deployments on it are reached.
type TargetConfig struct {
	// Name of the target. The local target uses "".
	Name string

	// Host is the daemon address, e.g. "unix:///var/run/docker.sock" or
	// "tcp://10.0.0.5:2375". Empty means the environment default.
	Host string

	// EndpointHost is the host written into deployment endpoints. Empty
	// means it is derived from SSH or Host, defaulting to "localhost".
	EndpointHost string

	// SSH, when set, tunnels the runtime connection through SSH to the
	// target's local daemon socket.
	SSH *SSHConfig
}

func (c TargetConfig) endpointHost() string {
	if c.EndpointHost != "" {
		return c.EndpointHost
	}
	if c.SSH != nil {
		if host, _, err := net.SplitHostPort(c.SSH.Addr); err == nil {
			return host
		}
		return c.SSH.Addr
	}
	if strings.HasPrefix(c.Host, "tcp://") {
		hostPort := strings.TrimPrefix(c.Host, "tcp://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil {
			return host
		}
		return hostPort
	}
	return "localhost"
}

// =============================================================================
// Adapter Selection
// =============================================================================

// New returns the adapter for a target: Docker when its daemon answers,
// otherwise the simulated adapter. The choice is made once, here, and logged
// once; callers never branch on it again.
func New(ctx context.Context, cfg TargetConfig, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	opts := DockerOptions{Host: cfg.Host, Logger: logger}

	if cfg.SSH != nil {
		tunnel, err := NewSSHTunnel(*cfg.SSH)
		if err != nil {
			logger.Warn("SSH tunnel setup failed, using simulated runtime",
				"target", cfg.Name,
				"addr", cfg.SSH.Addr,
				"error", err)
			return NewSimAdapter(logger)
		}
		opts.Host = "tcp://docker.tunnel:2375" // placeholder, dial goes through the tunnel
		opts.DialContext = tunnel.DialContext
		opts.Tunnel = tunnel
	}

	adapter, err := NewDockerAdapter(ctx, opts)
	if err != nil {
		if opts.Tunnel != nil {
			opts.Tunnel.Close()
		}
		logger.Warn("Container runtime not reachable, using simulated runtime",
			"target", cfg.Name,
			"error", err)
		return NewSimAdapter(logger)
	}

	logger.Info("Connected to container runtime",
		"target", cfg.Name,
		"host", cfg.Host)
	return adapter
}

// =============================================================================
// Target Pool
// =============================================================================

// TargetPool hands out one adapter per deployment target, created lazily and
// cached for the life of the pool. The local target ("") is built eagerly so
// the docker-or-sim decision is visible at startup.
type TargetPool struct {
	adapters map[string]Adapter
	targets  map[string]TargetConfig
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewTargetPool creates a pool over the local target and any named targets.
// Target names must be unique; the local target's name is normalized to "".
func NewTargetPool(ctx context.Context, local TargetConfig, targets []TargetConfig, logger *slog.Logger) *TargetPool {
	if logger == nil {
		logger = slog.Default()
	}

	local.Name = ""
	p := &TargetPool{
		adapters: make(map[string]Adapter),
		targets:  map[string]TargetConfig{"": local},
		logger:   logger,
	}
	for _, t := range targets {
		if t.Name == "" {
			continue
		}
		p.targets[t.Name] = t
	}

	p.adapters[""] = New(ctx, local, logger)
	return p
}

// ForTarget returns the adapter for a target name, creating it on first use.
// The adapter is cached for subsequent calls. "" means the local target.
func (p *TargetPool) ForTarget(ctx context.Context, target string) (Adapter, error) {
	// Fast path: check if adapter exists
	p.mu.RLock()
	adapter, exists := p.adapters[target]
	p.mu.RUnlock()

	if exists {
		return adapter, nil
	}

	// Slow path: create adapter
	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if adapter, exists := p.adapters[target]; exists {
		return adapter, nil
	}

	cfg, ok := p.targets[target]
	if !ok {
		return nil, fmt.Errorf("unknown deployment target %q", target)
	}

	adapter = New(ctx, cfg, p.logger)
	p.adapters[target] = adapter
	return adapter, nil
}

// EndpointHost returns the host deployments on the target are reached at.
// Unknown targets fall back to the local host.
func (p *TargetPool) EndpointHost(target string) string {
	cfg, ok := p.targets[target]
	if !ok {
		cfg = p.targets[""]
	}
	return cfg.endpointHost()
}

// HasAdapter checks whether an adapter for the target is cached.
func (p *TargetPool) HasAdapter(target string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.adapters[target]
	return exists
}

// AdapterCount returns the number of cached adapters.
func (p *TargetPool) AdapterCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.adapters)
}

// CloseAll closes every cached adapter. Called on shutdown.
func (p *TargetPool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, adapter := range p.adapters {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close adapter for target %q: %w", name, err)
		}
		delete(p.adapters, name)
	}

	return firstErr
}
