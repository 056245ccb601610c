// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package perilog implements the pre/post-execution pipeline (spec.md
// §4.5): running a configured prolog program across a job's ranks before
// it reaches the job shell, and an epilog program after it finishes, with
// bounded execution time, cancellation, and failed-rank draining.
package perilog

import (
	"context"

	"github.com/fluxrm/flux-core/pkg/idset"
)

// Phase names a perilog run, used for logging and for picking which half
// of Config applies.
type Phase string

const (
	PhaseProlog Phase = "prolog"
	PhaseEpilog Phase = "epilog"
)

// LogLine is one captured line of stdout/stderr from one rank of a
// perilog run, tested against Config.LogIgnore before being logged
// (spec.md §4.5 "Output handling").
type LogLine struct {
	Rank   int
	Stream string // "stdout" or "stderr"
	Text   string
}

// RankResult is one rank's exit status from a perilog run.
type RankResult struct {
	Rank       int
	ExitCode   int
	Signaled   bool
	Signal     int
}

// ExecResult is the accumulated outcome of a bulk-exec run across every
// rank the command was launched on.
type ExecResult struct {
	Results []RankResult
}

// WIFSIGNALED reports whether any rank's process was terminated by a
// signal, the POSIX macro the spec's formatted exception message checks.
func (r ExecResult) WIFSIGNALED() bool {
	for _, rr := range r.Results {
		if rr.Signaled {
			return true
		}
	}
	return false
}

// Status folds every rank's result into one accumulated POSIX-style
// status: the first non-zero exit code, or the first signal number
// (encoded as 128+signal) if any rank was signaled, else 0.
func (r ExecResult) Status() int {
	for _, rr := range r.Results {
		if rr.Signaled {
			return 128 + rr.Signal
		}
	}
	for _, rr := range r.Results {
		if rr.ExitCode != 0 {
			return rr.ExitCode
		}
	}
	return 0
}

// FailedRanks returns the idset of ranks whose process exited non-zero or
// was signaled, the set perilog drains per spec.md §4.5.
func (r ExecResult) FailedRanks() (*idset.Set, error) {
	out, err := idset.New(0, idset.FlagAutogrow)
	if err != nil {
		return nil, err
	}
	for _, rr := range r.Results {
		if rr.Signaled || rr.ExitCode != 0 {
			if err := out.Set(uint64(rr.Rank)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// ExecRequest launches argv across Ranks, the external bulk-exec facility
// spec.md §1 names as a collaborator.
type ExecRequest struct {
	JobID   uint64
	Ranks   *idset.Set
	Argv    []string
	Env     []string
	// CorrelationID identifies this particular prolog/epilog run, so a
	// BulkExec implementation's own logs can be joined back to the run
	// that requested them (spec.md §4.5's "one [run] in flight per job").
	CorrelationID string
}

// Process is a handle to one in-flight bulk-exec run.
type Process interface {
	// Wait blocks until every rank's process has exited, or ctx is done.
	Wait(ctx context.Context) (ExecResult, error)
	// Terminate sends SIGTERM to every still-running rank's process tree.
	Terminate() error
	// Kill sends SIGKILL to every still-running rank's process tree.
	Kill() error
	// Lines returns the channel of captured output lines, closed once
	// every rank's process has exited and its output drained.
	Lines() <-chan LogLine
}

// BulkExec is the external process-execution collaborator (spec.md §1/§6):
// bulk launch of one command across remote ranks.
type BulkExec interface {
	Spawn(ctx context.Context, req ExecRequest) (Process, error)
}

// Drainer is the resource.drain RPC collaborator (spec.md §6).
type Drainer interface {
	Drain(ctx context.Context, targets *idset.Set, reason string) error
}

// JobManager is the job-manager collaborator perilog calls into for the
// prolog_start/prolog_finish/epilog_finish handshake and to raise
// exceptions (spec.md §4.5, §6).
type JobManager interface {
	PrologStart(ctx context.Context, jobID uint64) error
	PrologFinish(ctx context.Context, jobID uint64, status int) error
	EpilogFinish(ctx context.Context, jobID uint64, status int) error
	RaiseException(ctx context.Context, jobID uint64, excType string, severity int, note string) error
}

// JobInfo is the subset of job state perilog needs to launch a phase:
// the ranks to run on and the identifying attributes passed as
// environment variables.
type JobInfo struct {
	ID     uint64
	Owner  uint32
	Ranks  *idset.Set
}

// JobLookup resolves a job id to the JobInfo needed to launch a phase.
// Satisfied by a narrow view of internal/jobstate.Engine's query surface.
type JobLookup interface {
	LookupJob(ctx context.Context, id uint64) (JobInfo, bool, error)
}
