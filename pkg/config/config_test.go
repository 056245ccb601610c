// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	config := NewDefault()

	require.NotNil(t, config)

	assert.Equal(t, "kary:32", config.TBONTopo)
	assert.Equal(t, false, config.TBONPreferTCP)
	assert.Equal(t, "0", config.BrokerCriticalRanks)
	assert.Equal(t, 0, config.InstanceLevel)

	assert.Greater(t, config.BootstrapTimeout, time.Duration(0))
	assert.Positive(t, config.MaxRetries)
}

func TestConfigLoad(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(*testing.T, *Config)
	}{
		{
			name: "tbon topo from environment",
			envVars: map[string]string{
				"FLUX_TBON_TOPO": "binary",
			},
			expected: func(t *testing.T, config *Config) {
				assert.Equal(t, "binary", config.TBONTopo)
			},
		},
		{
			name: "bootstrap timeout from environment",
			envVars: map[string]string{
				"FLUX_BOOTSTRAP_TIMEOUT": "60s",
			},
			expected: func(t *testing.T, config *Config) {
				assert.Equal(t, 60*time.Second, config.BootstrapTimeout)
			},
		},
		{
			name: "hostlist from environment",
			envVars: map[string]string{
				"FLUX_HOSTLIST": "node[1-4]",
			},
			expected: func(t *testing.T, config *Config) {
				assert.Equal(t, "node[1-4]", config.Hostlist)
			},
		},
		{
			name: "max retries from environment",
			envVars: map[string]string{
				"FLUX_MAX_RETRIES": "5",
			},
			expected: func(t *testing.T, config *Config) {
				assert.Equal(t, 5, config.MaxRetries)
			},
		},
		{
			name: "instance level from environment",
			envVars: map[string]string{
				"FLUX_INSTANCE_LEVEL": "2",
			},
			expected: func(t *testing.T, config *Config) {
				assert.Equal(t, 2, config.InstanceLevel)
			},
		},
		{
			name: "recovery mode from environment",
			envVars: map[string]string{
				"FLUX_BROKER_RECOVERY_MODE": "true",
			},
			expected: func(t *testing.T, config *Config) {
				assert.Equal(t, true, config.BrokerRecoveryMode)
			},
		},
		{
			name: "all environment variables",
			envVars: map[string]string{
				"FLUX_TBON_TOPO":             "kary:4",
				"FLUX_BOOTSTRAP_TIMEOUT":     "120s",
				"FLUX_HOSTLIST":              "node[0-7]",
				"FLUX_MAX_RETRIES":           "10",
				"FLUX_JOB_ID":                "f1234",
				"FLUX_BROKER_RECOVERY_MODE":  "true",
				"FLUX_URI_PARENT":            "tcp://node0:8050",
			},
			expected: func(t *testing.T, config *Config) {
				assert.Equal(t, "kary:4", config.TBONTopo)
				assert.Equal(t, "node[0-7]", config.Hostlist)
				assert.Equal(t, 10, config.MaxRetries)
				assert.Equal(t, "f1234", config.JobID)
				assert.Equal(t, true, config.BrokerRecoveryMode)
				assert.Equal(t, "tcp://node0:8050", config.ParentURI)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			config := NewDefault()
			config.Load()

			require.NotNil(t, config)
			tt.expected(t, config)
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
		expectedErr error
	}{
		{
			name: "valid config",
			config: &Config{
				Rundir:           "/tmp/flux-rundir",
				BootstrapTimeout: 30 * time.Second,
				MaxRetries:       3,
			},
			expectError: false,
		},
		{
			name: "missing rundir",
			config: &Config{
				BootstrapTimeout: 30 * time.Second,
				MaxRetries:       3,
			},
			expectError: true,
			expectedErr: ErrMissingRundir,
		},
		{
			name: "invalid timeout",
			config: &Config{
				Rundir:           "/tmp/flux-rundir",
				BootstrapTimeout: -1 * time.Second,
				MaxRetries:       3,
			},
			expectError: true,
			expectedErr: ErrInvalidTimeout,
		},
		{
			name: "invalid max retries",
			config: &Config{
				Rundir:           "/tmp/flux-rundir",
				BootstrapTimeout: 30 * time.Second,
				MaxRetries:       -1,
			},
			expectError: true,
			expectedErr: ErrInvalidMaxRetries,
		},
		{
			name: "negative instance level",
			config: &Config{
				Rundir:           "/tmp/flux-rundir",
				BootstrapTimeout: 30 * time.Second,
				MaxRetries:       3,
				InstanceLevel:    -1,
			},
			expectError: true,
			expectedErr: ErrInvalidInstanceLevel,
		},
		{
			name: "zero max retries (should be valid)",
			config: &Config{
				Rundir:           "/tmp/flux-rundir",
				BootstrapTimeout: 30 * time.Second,
				MaxRetries:       0,
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				if tt.expectedErr != nil {
					assert.Equal(t, tt.expectedErr, err)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigMutation(t *testing.T) {
	config := NewDefault()

	config.Rundir = "/var/run/flux"
	assert.Equal(t, "/var/run/flux", config.Rundir)

	config.BootstrapTimeout = 60 * time.Second
	assert.Equal(t, 60*time.Second, config.BootstrapTimeout)

	config.MaxRetries = 5
	assert.Equal(t, 5, config.MaxRetries)

	config.BrokerRecoveryMode = true
	assert.Equal(t, true, config.BrokerRecoveryMode)

	config.Hostlist = "node[0-15]"
	assert.Equal(t, "node[0-15]", config.Hostlist)
}

func TestConfigDefaults(t *testing.T) {
	config := NewDefault()

	assert.Equal(t, "/tmp/flux-rundir", config.Rundir)
	assert.Equal(t, 30*time.Second, config.BootstrapTimeout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, false, config.BrokerRecoveryMode)
	assert.Equal(t, "", config.ParentURI)
}
