// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config holds the broker overlay attributes that every component
// (bootstrap, job state engine, perilog, killbot) reads to find its place
// in the instance: topology shape, transport preference, and well-known
// rundir/URI locations.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the broker attributes table, the Go analogue of the
// overlay's attr_get/attr_set key space.
type Config struct {
	// TBONTopo names the tree-based-overlay-network shape (e.g.
	// "kary:32", "binary", "custom").
	TBONTopo string

	// TBONInterfaceHint picks the network interface overlay sockets bind to.
	TBONInterfaceHint string

	// TBONPreferTCP forces TCP transport over the overlay's default (ipc
	// for local peers, tcp otherwise).
	TBONPreferTCP bool

	// BrokerMapping is the rank-to-host placement used to derive parent/child
	// wireup, as produced by the instance launcher (PMI or a static hostlist).
	BrokerMapping string

	// BrokerCriticalRanks lists ranks that must not be preempted by killbot
	// (rank 0 and any rank hosting a critical service).
	BrokerCriticalRanks string

	// BrokerRecoveryMode enables rejoining an existing overlay after a
	// restart instead of bootstrapping fresh.
	BrokerRecoveryMode bool

	// Hostlist is the RFC 1034-ish compressed hostname list for the instance.
	Hostlist string

	// JobID is the enclosing instance's job id, empty for the top-level instance.
	JobID string

	// ParentURI is this rank's upstream connect endpoint, empty at rank 0.
	ParentURI string

	// LocalURI is this rank's local (ipc) listen endpoint for same-node peers.
	LocalURI string

	// InstanceLevel is this instance's depth in an enclosing-instance chain.
	InstanceLevel int

	// Rundir is the per-instance runtime directory for sockets, state
	// files, and the local KVS backing store.
	Rundir string

	// BootstrapTimeout bounds how long a rank waits in PMI barrier/lookup
	// exchanges before giving up.
	BootstrapTimeout time.Duration

	// MaxRetries is the maximum number of retries for transient RPC failures.
	MaxRetries int
}

// NewDefault creates a new configuration with default values, falling back
// to FLUX_* environment variables the way a broker started under an
// enclosing instance would inherit them.
func NewDefault() *Config {
	return &Config{
		TBONTopo:            getEnvOrDefault("FLUX_TBON_TOPO", "kary:32"),
		TBONInterfaceHint:   getEnvOrDefault("FLUX_TBON_INTERFACE_HINT", "default-route"),
		TBONPreferTCP:       getEnvBoolOrDefault("FLUX_TBON_PREFER_TCP", false),
		BrokerMapping:       getEnvOrDefault("FLUX_BROKER_MAPPING", ""),
		BrokerCriticalRanks: getEnvOrDefault("FLUX_BROKER_CRITICAL_RANKS", "0"),
		BrokerRecoveryMode:  getEnvBoolOrDefault("FLUX_BROKER_RECOVERY_MODE", false),
		Hostlist:            getEnvOrDefault("FLUX_HOSTLIST", ""),
		JobID:                getEnvOrDefault("FLUX_JOB_ID", ""),
		ParentURI:           getEnvOrDefault("FLUX_URI_PARENT", ""),
		LocalURI:            getEnvOrDefault("FLUX_URI_LOCAL", ""),
		InstanceLevel:       getEnvIntOrDefault("FLUX_INSTANCE_LEVEL", 0),
		Rundir:              getEnvOrDefault("FLUX_RUNDIR", "/tmp/flux-rundir"),
		BootstrapTimeout:    30 * time.Second,
		MaxRetries:          3,
	}
}

// Load refreshes configuration from environment variables, overwriting any
// field whose corresponding variable is set.
func (c *Config) Load() {
	if v := os.Getenv("FLUX_TBON_TOPO"); v != "" {
		c.TBONTopo = v
	}
	if v := os.Getenv("FLUX_TBON_INTERFACE_HINT"); v != "" {
		c.TBONInterfaceHint = v
	}
	c.TBONPreferTCP = getEnvBoolOrDefault("FLUX_TBON_PREFER_TCP", c.TBONPreferTCP)

	if v := os.Getenv("FLUX_BROKER_MAPPING"); v != "" {
		c.BrokerMapping = v
	}
	if v := os.Getenv("FLUX_BROKER_CRITICAL_RANKS"); v != "" {
		c.BrokerCriticalRanks = v
	}
	c.BrokerRecoveryMode = getEnvBoolOrDefault("FLUX_BROKER_RECOVERY_MODE", c.BrokerRecoveryMode)

	if v := os.Getenv("FLUX_HOSTLIST"); v != "" {
		c.Hostlist = v
	}
	if v := os.Getenv("FLUX_JOB_ID"); v != "" {
		c.JobID = v
	}
	if v := os.Getenv("FLUX_URI_PARENT"); v != "" {
		c.ParentURI = v
	}
	if v := os.Getenv("FLUX_URI_LOCAL"); v != "" {
		c.LocalURI = v
	}

	c.InstanceLevel = getEnvIntOrDefault("FLUX_INSTANCE_LEVEL", c.InstanceLevel)

	if v := os.Getenv("FLUX_RUNDIR"); v != "" {
		c.Rundir = v
	}

	if timeout := os.Getenv("FLUX_BOOTSTRAP_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.BootstrapTimeout = d
		}
	}

	if maxRetries := os.Getenv("FLUX_MAX_RETRIES"); maxRetries != "" {
		if i, err := strconv.Atoi(maxRetries); err == nil {
			c.MaxRetries = i
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Rundir == "" {
		return ErrMissingRundir
	}

	if c.BootstrapTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	if c.InstanceLevel < 0 {
		return ErrInvalidInstanceLevel
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as a boolean or a default value
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable value as an int or a default value
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
