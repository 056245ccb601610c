// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package perilog

import (
	"regexp"
	"time"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// PhaseConfig configures one of the prolog/epilog phases (spec.md §4.5
// "Configuration").
type PhaseConfig struct {
	// Command is mandatory if the phase is enabled; a nil/empty Command
	// disables the phase entirely.
	Command []string
	// Timeout is the duration after which the phase is terminated. Zero
	// means no timeout.
	Timeout time.Duration
	// PerRank launches Command on every rank of the job's allocation
	// instead of rank 0 only.
	PerRank bool
	// KillTimeout is the grace period between SIGTERM and SIGKILL when
	// terminating a canceled or timed-out run. Prolog only.
	KillTimeout time.Duration
}

// Enabled reports whether this phase is configured to run at all.
func (p PhaseConfig) Enabled() bool {
	return len(p.Command) > 0
}

// Config is the perilog controller's full configuration, generalized from
// the teacher's functional-option Config/NewDefault pattern
// (pkg/config.Config) into the prolog/epilog + log-ignore shape spec.md
// §4.5 describes.
type Config struct {
	Prolog PhaseConfig
	Epilog PhaseConfig

	// LogIgnore is a list of regex patterns; matching stdout/stderr lines
	// are suppressed from the broker log. An empty-line pattern is
	// always included in addition to these.
	LogIgnore []string

	// SkipEpilogOnShutdown gates spec.md §9's open question: epilog is
	// skipped while the broker itself is shutting down, as a stopgap
	// pending a future feature that preserves running jobs across
	// restarts. Kept as a single boolean so it can be flipped cleanly
	// once that feature lands.
	SkipEpilogOnShutdown bool
}

// DefaultConfig returns a Config with both phases disabled and the
// shutdown-skip gate on, the safe default for an instance that hasn't
// configured perilog yet.
func DefaultConfig() Config {
	return Config{
		SkipEpilogOnShutdown: true,
	}
}

// Option applies a setting to a Config, mirroring the teacher's
// functional-option constructors (e.g. client_options.go).
type Option func(*Config)

// WithProlog sets the prolog phase configuration.
func WithProlog(p PhaseConfig) Option {
	return func(c *Config) { c.Prolog = p }
}

// WithEpilog sets the epilog phase configuration.
func WithEpilog(p PhaseConfig) Option {
	return func(c *Config) { c.Epilog = p }
}

// WithLogIgnore sets the log-ignore regex pattern list.
func WithLogIgnore(patterns ...string) Option {
	return func(c *Config) { c.LogIgnore = patterns }
}

// New builds a Config from DefaultConfig with opts applied.
func New(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// CompiledLogIgnore compiles Config.LogIgnore plus the implicit
// empty-line pattern once, matching the original's one-time regcomp pass
// (src/modules/job-manager/plugins/perilog.c) rather than recompiling per
// captured line.
func (c Config) CompiledLogIgnore() ([]*regexp.Regexp, error) {
	patterns := append([]string{`^\s*$`}, c.LogIgnore...)
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fluxerrors.Wrap(fluxerrors.Invalid, "perilog: compile log-ignore pattern "+p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// shouldLog reports whether text should be emitted to the broker log,
// i.e. it matches none of the compiled ignore patterns.
func shouldLog(ignore []*regexp.Regexp, text string) bool {
	for _, re := range ignore {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}
