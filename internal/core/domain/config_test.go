package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Config Normalization Tests
// =============================================================================

func TestDeploymentConfig_Normalize_Defaults(t *testing.T) {
	cfg := DeploymentConfig{
		ProjectID: "p1",
		Image:     "app",
	}
	cfg.Normalize()

	assert.Equal(t, DefaultTag, cfg.Tag)
	assert.Equal(t, []int{DefaultPort}, cfg.Ports)
	assert.Equal(t, DefaultMemoryLimit, cfg.Resources.MemoryBytes)
	assert.Equal(t, DefaultCPULimit, cfg.Resources.CPU)
}

func TestDeploymentConfig_Normalize_KeepsExplicitValues(t *testing.T) {
	cfg := DeploymentConfig{
		ProjectID: "p1",
		Image:     "app",
		Tag:       "v2",
		Ports:     []int{8080, 8081},
		Resources: ResourceSpec{MemoryBytes: 1024 * 1024 * 1024, CPU: 2},
	}
	cfg.Normalize()

	assert.Equal(t, "v2", cfg.Tag)
	assert.Equal(t, []int{8080, 8081}, cfg.Ports)
	assert.Equal(t, int64(1024*1024*1024), cfg.Resources.MemoryBytes)
	assert.Equal(t, float64(2), cfg.Resources.CPU)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestDeploymentConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DeploymentConfig)
		wantErr error
	}{
		{
			name:    "valid",
			mutate:  func(c *DeploymentConfig) {},
			wantErr: nil,
		},
		{
			name:    "missing project",
			mutate:  func(c *DeploymentConfig) { c.ProjectID = "" },
			wantErr: ErrMissingProject,
		},
		{
			name:    "missing image",
			mutate:  func(c *DeploymentConfig) { c.Image = "" },
			wantErr: ErrMissingImage,
		},
		{
			name:    "port too low",
			mutate:  func(c *DeploymentConfig) { c.Ports = []int{0} },
			wantErr: ErrInvalidPort,
		},
		{
			name:    "port too high",
			mutate:  func(c *DeploymentConfig) { c.Ports = []int{70000} },
			wantErr: ErrInvalidPort,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DeploymentConfig{
				ProjectID: "p1",
				Image:     "app",
				Ports:     []int{3000},
			}
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

// =============================================================================
// Log Severity Inference Tests
// =============================================================================

func TestInferSeverity(t *testing.T) {
	tests := []struct {
		message  string
		expected LogSeverity
	}{
		{"listening on :3000", SeverityInfo},
		{"ERROR: connection refused", SeverityError},
		{"fatal: could not bind", SeverityError},
		{"panic: runtime error", SeverityError},
		{"WARN slow query took 2s", SeverityWarn},
		{"warning: deprecated flag", SeverityWarn},
		{"DEBUG cache miss", SeverityDebug},
		{"trace: entering handler", SeverityDebug},
		{"", SeverityInfo},
	}

	for _, tc := range tests {
		t.Run(tc.message, func(t *testing.T) {
			assert.Equal(t, tc.expected, InferSeverity(tc.message))
		})
	}
}

func TestNewLogEntry(t *testing.T) {
	entry := NewLogEntry(OriginStderr, "ERROR: boom")

	assert.Equal(t, OriginStderr, entry.Origin)
	assert.Equal(t, SeverityError, entry.Severity)
	assert.Equal(t, "ERROR: boom", entry.Message)
	assert.False(t, entry.Timestamp.IsZero())
}
