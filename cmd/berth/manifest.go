package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/berth/internal/core/domain"
)

// =============================================================================
// Manifest Types
// =============================================================================

// Manifest is the YAML shape of a deployment request.
//
// Example:
//
//	project:
//	  id: acme-web
//	  name: Acme Web
//	image: acme/web
//	tag: "1.4.2"
//	ports: [3000]
//	environment:
//	  NODE_ENV: production
//	volumes:
//	  /srv/acme/uploads: /app/uploads
//	health_check:
//	  command: ["CMD", "curl", "-f", "http://localhost:3000/health"]
//	  interval: 10s
//	  timeout: 3s
//	  retries: 3
//	resources:
//	  memory: 512m
//	  cpu: 0.5
type Manifest struct {
	Project     ProjectManifest   `yaml:"project"`
	Slot        string            `yaml:"slot"`
	Image       string            `yaml:"image"`
	Tag         string            `yaml:"tag"`
	Ports       []int             `yaml:"ports"`
	Environment map[string]string `yaml:"environment"`
	Volumes     map[string]string `yaml:"volumes"`
	HealthCheck *HealthManifest   `yaml:"health_check"`
	Resources   *ResourceManifest `yaml:"resources"`
	Target      string            `yaml:"target"`
}

// ProjectManifest identifies the project a deployment belongs to.
type ProjectManifest struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// HealthManifest is a container health check with string durations.
type HealthManifest struct {
	Command     []string `yaml:"command"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

// ResourceManifest caps container resources. Memory accepts unit suffixes
// (512m, 2g); cpu is a core fraction.
type ResourceManifest struct {
	Memory string  `yaml:"memory"`
	CPU    float64 `yaml:"cpu"`
}

// =============================================================================
// Loading
// =============================================================================

// LoadManifest reads a manifest file and maps it onto a deployment config.
func LoadManifest(path string) (domain.DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DeploymentConfig{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return domain.DeploymentConfig{}, fmt.Errorf("parse manifest: %w", err)
	}

	return m.ToConfig()
}

// ToConfig converts the manifest into a deployment config.
func (m *Manifest) ToConfig() (domain.DeploymentConfig, error) {
	cfg := domain.DeploymentConfig{
		ProjectID:   m.Project.ID,
		ProjectName: m.Project.Name,
		Slot:        m.Slot,
		Image:       m.Image,
		Tag:         m.Tag,
		Ports:       m.Ports,
		Environment: m.Environment,
		Volumes:     m.Volumes,
		Target:      m.Target,
	}

	if m.HealthCheck != nil {
		interval, err := parseDuration("health_check.interval", m.HealthCheck.Interval)
		if err != nil {
			return domain.DeploymentConfig{}, err
		}
		timeout, err := parseDuration("health_check.timeout", m.HealthCheck.Timeout)
		if err != nil {
			return domain.DeploymentConfig{}, err
		}
		startPeriod, err := parseDuration("health_check.start_period", m.HealthCheck.StartPeriod)
		if err != nil {
			return domain.DeploymentConfig{}, err
		}

		cfg.HealthCheck = &domain.HealthCheckSpec{
			Command:     m.HealthCheck.Command,
			Interval:    interval,
			Timeout:     timeout,
			Retries:     m.HealthCheck.Retries,
			StartPeriod: startPeriod,
		}
	}

	if m.Resources != nil {
		memory, err := parseMemory(m.Resources.Memory)
		if err != nil {
			return domain.DeploymentConfig{}, err
		}
		cfg.Resources = domain.ResourceSpec{
			MemoryBytes: memory,
			CPU:         m.Resources.CPU,
		}
	}

	return cfg, nil
}

// parseDuration parses a manifest duration, treating empty as zero.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	return d, nil
}

// parseMemory parses a memory size with an optional k/m/g unit suffix into
// bytes. Empty means no limit.
func parseMemory(value string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return 0, nil
	}

	s = strings.TrimSuffix(s, "b")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "g"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "k")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("resources.memory: invalid size %q", value)
	}
	return n * mult, nil
}
