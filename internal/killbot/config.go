// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package killbot

import "time"

// HandlerName names one of the two built-in Handler strategies (spec.md
// §4.6 "Configuration").
type HandlerName string

const (
	HandlerOverkill HandlerName = "overkill"
	HandlerOnekill  HandlerName = "onekill"
)

// Config is killbot's configuration, following the same functional-option
// + sensible-default pattern as pkg/config.Config and internal/perilog.Config.
type Config struct {
	Handler    HandlerName
	KillAfter  time.Duration
	KillRepeat time.Duration
}

// DefaultConfig selects the overkill handler with a zero KillAfter (the
// kill-timer fires as soon as a victor and an eligible victim both exist)
// and a 30s KillRepeat.
func DefaultConfig() Config {
	return Config{
		Handler:    HandlerOverkill,
		KillAfter:  0,
		KillRepeat: 30 * time.Second,
	}
}

// Option applies a setting to a Config.
type Option func(*Config)

// WithHandler sets the named kill strategy.
func WithHandler(name HandlerName) Option {
	return func(c *Config) { c.Handler = name }
}

// WithKillAfter sets the tolerable queue-wait time before the first kill.
func WithKillAfter(d time.Duration) Option {
	return func(c *Config) { c.KillAfter = d }
}

// WithKillRepeat sets the interval between successive kill-timer ticks.
func WithKillRepeat(d time.Duration) Option {
	return func(c *Config) { c.KillRepeat = d }
}

// New builds a Config from DefaultConfig with opts applied.
func New(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// resolveHandler returns the concrete Handler for cfg.Handler, defaulting
// to overkill for an unrecognized or empty name.
func (c Config) resolveHandler() Handler {
	if c.Handler == HandlerOnekill {
		return onekillHandler{}
	}
	return overkillHandler{}
}
