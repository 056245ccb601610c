// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package perilog

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/fluxrm/flux-core/internal/reactor"
	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
	"github.com/fluxrm/flux-core/pkg/idset"
	"github.com/fluxrm/flux-core/pkg/logging"
	"github.com/fluxrm/flux-core/pkg/retry"
	"github.com/fluxrm/flux-core/pkg/watch"
)

// run tracks one in-flight prolog or epilog execution. All fields are
// only ever touched on the controller's reactor thread.
type run struct {
	id      string
	jobID   uint64
	phase   Phase
	proc    Process
	canceled bool
	cancelKillTimer func()
	cancelTimeoutTimer func()
}

// Controller runs the configured prolog/epilog programs across a job's
// ranks, one in-flight run per job-id, per spec.md §4.5.
type Controller struct {
	reactor *reactor.Reactor
	cfg     Config
	ignore  []*regexp.Regexp

	exec   BulkExec
	drain  Drainer
	jm     JobManager
	lookup JobLookup
	log    logging.Logger

	shuttingDown func() bool
	retryPolicy  retry.Policy

	runs map[uint64]*run
}

// NewController constructs a Controller. shuttingDown, if non-nil, is
// consulted at every finish event to implement spec.md §4.5's shutdown
// gate on the epilog; a nil func behaves as "never shutting down".
func NewController(r *reactor.Reactor, cfg Config, exec BulkExec, drain Drainer, jm JobManager, lookup JobLookup, log logging.Logger, shuttingDown func() bool) (*Controller, error) {
	ignore, err := cfg.CompiledLogIgnore()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewLogger(nil)
	}
	if shuttingDown == nil {
		shuttingDown = func() bool { return false }
	}
	return &Controller{
		reactor:      r,
		cfg:          cfg,
		ignore:       ignore,
		exec:         exec,
		drain:        drain,
		jm:           jm,
		lookup:       lookup,
		log:          log.With("component", "perilog"),
		shuttingDown: shuttingDown,
		retryPolicy:  retry.NewRPCExponentialBackoff(),
		runs:         make(map[uint64]*run),
	}, nil
}

// Watch subscribes to hub's instance-wide transitions and drives prolog on
// entry into run, epilog on the run->cleanup transition, until ctx is
// done. Meant to be launched with `go ctrl.Watch(ctx, hub)`.
func (c *Controller) Watch(ctx context.Context, hub *watch.Hub) {
	ch := hub.Subscribe(ctx, 0)
	for ev := range ch {
		ev := ev
		_ = c.reactor.Post(func() {
			c.handleTransition(ctx, ev)
		})
	}
}

func (c *Controller) handleTransition(ctx context.Context, ev watch.StateChangeEvent) {
	switch {
	case ev.NewState == "run":
		c.startPhase(ctx, PhaseProlog, ev.JobID)
	case ev.PreviousState == "run" && ev.NewState == "cleanup":
		c.startPhase(ctx, PhaseEpilog, ev.JobID)
	}
}

// OnException is wired to internal/jobstate.Engine.OnException so perilog
// learns about a severity-0 cancellation affecting a job whose prolog is
// in flight (spec.md §4.5 "On job exception with severity 0 during
// prolog"). The exact jobstate.Job/Exception types aren't referenced here
// to avoid a dependency cycle; callers pass through only what's needed.
func (c *Controller) OnException(jobID uint64, severity int) {
	if severity != 0 {
		return
	}
	_ = c.reactor.Post(func() {
		r, ok := c.runs[jobID]
		if !ok || r.phase != PhaseProlog || r.canceled {
			return
		}
		c.cancelRun(r)
	})
}

func (c *Controller) phaseConfig(phase Phase) PhaseConfig {
	if phase == PhaseProlog {
		return c.cfg.Prolog
	}
	return c.cfg.Epilog
}

// startPhase spawns the configured command for phase against jobID's
// ranks. Must run on the reactor thread.
func (c *Controller) startPhase(ctx context.Context, phase Phase, jobID uint64) {
	pc := c.phaseConfig(phase)
	if !pc.Enabled() {
		return
	}
	if phase == PhaseEpilog && c.cfg.SkipEpilogOnShutdown && c.shuttingDown() {
		c.log.Info("skipping epilog on shutdown", "job_id", jobID)
		return
	}
	if _, inFlight := c.runs[jobID]; inFlight {
		c.log.Warn("perilog run already in flight for job; ignoring duplicate start", "job_id", jobID, "phase", string(phase))
		return
	}

	info, ok, err := c.lookup.LookupJob(ctx, jobID)
	if err != nil || !ok {
		c.log.Error("perilog: job lookup failed; skipping phase", "job_id", jobID, "phase", string(phase))
		return
	}

	ranks := info.Ranks
	if !pc.PerRank || ranks == nil || ranks.Count() == 0 {
		single, err := idset.New(1, 0)
		if err != nil || single.Set(0) != nil {
			c.log.Error("perilog: failed to build rank-0 set", "job_id", jobID)
			return
		}
		ranks = single
	}

	env := append(os.Environ(),
		fmt.Sprintf("FLUX_JOB_ID=%d", jobID),
		fmt.Sprintf("FLUX_JOB_USERID=%d", info.Owner),
	)

	r := &run{id: uuid.NewString(), jobID: jobID, phase: phase}
	c.runs[jobID] = r
	c.log.Debug("perilog: starting phase", "job_id", jobID, "phase", string(phase), "run_id", r.id)

	if phase == PhaseProlog {
		if err := c.jm.PrologStart(ctx, jobID); err != nil {
			c.log.Error("perilog: prolog_start failed", "job_id", jobID, "run_id", r.id, "error", err.Error())
		}
	}

	req := ExecRequest{JobID: jobID, Ranks: ranks, Argv: pc.Command, Env: env, CorrelationID: r.id}
	proc, err := retry.DoWithResult(ctx, c.retryPolicy, func() (Process, error) {
		return c.exec.Spawn(ctx, req)
	})
	if err != nil {
		c.finishSpawnFailure(ctx, r, err)
		return
	}
	r.proc = proc

	if pc.Timeout > 0 {
		cancel, terr := c.reactor.After(pc.Timeout, func() {
			c.log.Warn("perilog: phase timed out", "job_id", jobID, "phase", string(phase), "timeout", pc.Timeout.String())
			c.terminateRun(r, pc.KillTimeout)
		})
		if terr == nil {
			r.cancelTimeoutTimer = cancel
		}
	}

	go c.pumpOutput(r)
	go c.awaitCompletion(ctx, r)
}

// finishSpawnFailure implements spec.md §7's synthetic exit-code mapping
// for a bulk-exec spawn failure: the phase is still considered failed
// with a classified status so the job still drains and reaches cleanup,
// and (for prolog) prolog_finish is still paired with prolog_start.
func (c *Controller) finishSpawnFailure(ctx context.Context, r *run, err error) {
	delete(c.runs, r.jobID)
	status := syntheticExitCode(err)
	c.log.Error("perilog: spawn failed", "job_id", r.jobID, "run_id", r.id, "phase", string(r.phase), "error", err.Error(), "synthetic_status", status)

	if r.phase == PhaseProlog {
		note := fmt.Sprintf("prolog failed to start: %s", err.Error())
		if rerr := c.jm.RaiseException(ctx, r.jobID, "prolog", 1, note); rerr != nil {
			c.log.Error("perilog: raise exception failed", "job_id", r.jobID, "run_id", r.id, "error", rerr.Error())
		}
		if ferr := c.jm.PrologFinish(ctx, r.jobID, status); ferr != nil {
			c.log.Error("perilog: prolog_finish failed", "job_id", r.jobID, "run_id", r.id, "error", ferr.Error())
		}
		return
	}
	if ferr := c.jm.EpilogFinish(ctx, r.jobID, status); ferr != nil {
		c.log.Error("perilog: epilog_finish failed", "job_id", r.jobID, "run_id", r.id, "error", ferr.Error())
	}
}

// syntheticExitCode maps a spawn-failure error's classification to the
// POSIX-style status the job still drains against (spec.md §7).
func syntheticExitCode(err error) int {
	switch fluxerrors.GetCode(err) {
	case fluxerrors.Permission:
		return 126
	case fluxerrors.NotFound:
		return 127
	case fluxerrors.IO:
		return 68
	default:
		return 1
	}
}

// cancelRun marks r as externally canceled and begins the
// SIGTERM/kill-timeout/SIGKILL sequence. Must run on the reactor thread.
func (c *Controller) cancelRun(r *run) {
	r.canceled = true
	c.terminateRun(r, c.cfg.Prolog.KillTimeout)
}

// terminateRun sends SIGTERM to r's process tree and arms a SIGKILL timer
// for killTimeout later if the tree hasn't exited by then. Must run on the
// reactor thread.
func (c *Controller) terminateRun(r *run, killTimeout time.Duration) {
	if r.proc == nil {
		return
	}
	if err := r.proc.Terminate(); err != nil {
		c.log.Warn("perilog: terminate failed", "job_id", r.jobID, "error", err.Error())
	}
	if r.cancelTimeoutTimer != nil {
		r.cancelTimeoutTimer()
		r.cancelTimeoutTimer = nil
	}
	if killTimeout <= 0 {
		return
	}
	cancel, err := c.reactor.After(killTimeout, func() {
		if err := r.proc.Kill(); err != nil {
			c.log.Warn("perilog: kill failed", "job_id", r.jobID, "error", err.Error())
		}
	})
	if err == nil {
		r.cancelKillTimer = cancel
	}
}

func (c *Controller) pumpOutput(r *run) {
	for line := range r.proc.Lines() {
		if !shouldLog(c.ignore, line.Text) {
			continue
		}
		fields := []any{"job_id", r.jobID, "run_id", r.id, "phase", string(r.phase), "rank", line.Rank, "stream", line.Stream}
		if line.Stream == "stderr" {
			c.log.Error(line.Text, fields...)
		} else {
			c.log.Info(line.Text, fields...)
		}
	}
}

// awaitCompletion blocks (off the reactor thread) for r's process to
// finish, then hops back onto the reactor to apply the completion
// semantics of spec.md §4.5.
func (c *Controller) awaitCompletion(ctx context.Context, r *run) {
	result, err := r.proc.Wait(ctx)
	_ = c.reactor.Post(func() {
		c.completeRun(ctx, r, result, err)
	})
}

func (c *Controller) completeRun(ctx context.Context, r *run, result ExecResult, waitErr error) {
	delete(c.runs, r.jobID)
	if r.cancelTimeoutTimer != nil {
		r.cancelTimeoutTimer()
	}
	if r.cancelKillTimer != nil {
		r.cancelKillTimer()
	}

	if waitErr != nil {
		c.log.Error("perilog: wait failed", "job_id", r.jobID, "run_id", r.id, "phase", string(r.phase), "error", waitErr.Error())
		c.finishSpawnFailure(ctx, r, waitErr)
		return
	}

	status := result.Status()

	if r.phase == PhaseEpilog {
		c.drainFailedRanks(ctx, r, result)
		if err := c.jm.EpilogFinish(ctx, r.jobID, status); err != nil {
			c.log.Error("perilog: epilog_finish failed", "job_id", r.jobID, "run_id", r.id, "error", err.Error())
		}
		return
	}

	if status == 0 && !r.canceled {
		if err := c.jm.PrologFinish(ctx, r.jobID, 0); err != nil {
			c.log.Error("perilog: prolog_finish failed", "job_id", r.jobID, "run_id", r.id, "error", err.Error())
		}
		return
	}

	if r.canceled {
		// Externally induced: the cause is already recorded as a journal
		// exception, so no drain and no duplicate exception here.
		if err := c.jm.PrologFinish(ctx, r.jobID, status); err != nil {
			c.log.Error("perilog: prolog_finish failed", "job_id", r.jobID, "run_id", r.id, "error", err.Error())
		}
		return
	}

	c.drainFailedRanks(ctx, r, result)
	note := formatFailureNote(result)
	if err := c.jm.RaiseException(ctx, r.jobID, "prolog", 1, note); err != nil {
		c.log.Error("perilog: raise exception failed", "job_id", r.jobID, "run_id", r.id, "error", err.Error())
	}
	if err := c.jm.PrologFinish(ctx, r.jobID, status); err != nil {
		c.log.Error("perilog: prolog_finish failed", "job_id", r.jobID, "run_id", r.id, "error", err.Error())
	}
}

func (c *Controller) drainFailedRanks(ctx context.Context, r *run, result ExecResult) {
	failed, err := result.FailedRanks()
	if err != nil || failed.Count() == 0 {
		return
	}
	reason := fmt.Sprintf("job %d %s failed", r.jobID, string(r.phase))
	if err := c.drain.Drain(ctx, failed, reason); err != nil {
		c.log.Error("perilog: drain failed", "job_id", r.jobID, "run_id", r.id, "error", err.Error())
	}
}

func formatFailureNote(result ExecResult) string {
	for _, rr := range result.Results {
		if rr.Signaled {
			return fmt.Sprintf("prolog rank %d terminated by signal %d", rr.Rank, rr.Signal)
		}
	}
	for _, rr := range result.Results {
		if rr.ExitCode != 0 {
			return fmt.Sprintf("prolog rank %d exited %d", rr.Rank, rr.ExitCode)
		}
	}
	return "prolog failed"
}
