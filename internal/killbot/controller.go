// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package killbot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fluxrm/flux-core/internal/reactor"
	"github.com/fluxrm/flux-core/pkg/logging"
	"github.com/fluxrm/flux-core/pkg/retry"
	"github.com/fluxrm/flux-core/pkg/watch"
)

// JobView is the subset of job state killbot needs to classify and track a
// candidate, resolved by JobLookup at the moment a job enters sched or run.
type JobView struct {
	ID               uint64
	Queue            string
	NNodes           int
	TSched           float64
	TRun             float64
	PreemptibleAfter *float64
}

// JobLookup resolves a job id to the JobView needed to index it as a
// victim or victor. Satisfied by a narrow view of
// internal/jobstate.Engine's query surface.
type JobLookup interface {
	LookupJob(ctx context.Context, id uint64) (JobView, bool, error)
}

// Controller owns the victims/victors indexes and the kill-timer/age-timer
// that drive preemption (spec.md §4.6).
type Controller struct {
	reactor *reactor.Reactor
	cfg     Config
	handler Handler

	lookup      JobLookup
	except      Exceptioner
	log         logging.Logger
	clock       func() float64
	retryPolicy retry.Policy

	victims       map[uint64]victim
	victors       map[uint64]victor
	queuePressure map[string]int

	killTimerActive bool
	killTimerCancel func()

	ageTimerActive bool
	ageTimerCancel func()
}

// NewController constructs a Controller. clock, if nil, defaults to
// wall-clock seconds since the Unix epoch, matching the journal
// timestamps (TRun/TSched) it compares against.
func NewController(r *reactor.Reactor, cfg Config, lookup JobLookup, except Exceptioner, log logging.Logger, clock func() float64) *Controller {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	if clock == nil {
		clock = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	return &Controller{
		reactor:       r,
		cfg:           cfg,
		handler:       cfg.resolveHandler(),
		lookup:        lookup,
		except:        except,
		log:           log.With("component", "killbot"),
		clock:         clock,
		retryPolicy:   retry.NewRPCExponentialBackoff(),
		victims:       make(map[uint64]victim),
		victors:       make(map[uint64]victor),
		queuePressure: make(map[string]int),
	}
}

// Watch subscribes to hub's instance-wide transitions and maintains the
// victims/victors indexes until ctx is done. Meant to be launched with
// `go ctrl.Watch(ctx, hub)`.
func (c *Controller) Watch(ctx context.Context, hub *watch.Hub) {
	ch := hub.Subscribe(ctx, 0)
	for ev := range ch {
		ev := ev
		_ = c.reactor.Post(func() {
			c.handleTransition(ctx, ev)
		})
	}
}

func isVictorCandidate(pa *float64) bool {
	return pa == nil || *pa > 0
}

func isVictimCandidate(pa *float64) bool {
	return pa != nil
}

func nnodesOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (c *Controller) handleTransition(ctx context.Context, ev watch.StateChangeEvent) {
	switch {
	case ev.NewState == "sched":
		c.insertVictor(ctx, ev.JobID)
	case ev.NewState == "run":
		c.removeVictor(ev.JobID)
		c.insertVictim(ctx, ev.JobID)
	case ev.NewState == "cleanup":
		c.removeVictor(ev.JobID)
		c.removeVictim(ev.JobID)
	case ev.PreviousState == "sched":
		c.removeVictor(ev.JobID)
	case ev.PreviousState == "run":
		c.removeVictim(ev.JobID)
	}
	c.reevaluate(ctx)
}

func (c *Controller) insertVictor(ctx context.Context, jobID uint64) {
	info, ok, err := c.lookup.LookupJob(ctx, jobID)
	if err != nil || !ok || !isVictorCandidate(info.PreemptibleAfter) {
		return
	}
	v := victor{jobID: jobID, queue: info.Queue, nnodes: nnodesOrOne(info.NNodes), tSched: info.TSched}
	c.victors[jobID] = v
	c.queuePressure[v.queue] += v.nnodes
}

func (c *Controller) removeVictor(jobID uint64) {
	v, ok := c.victors[jobID]
	if !ok {
		return
	}
	delete(c.victors, jobID)
	c.queuePressure[v.queue] -= v.nnodes
	if c.queuePressure[v.queue] <= 0 {
		delete(c.queuePressure, v.queue)
	}
}

func (c *Controller) insertVictim(ctx context.Context, jobID uint64) {
	info, ok, err := c.lookup.LookupJob(ctx, jobID)
	if err != nil || !ok || !isVictimCandidate(info.PreemptibleAfter) {
		return
	}
	c.victims[jobID] = victim{
		jobID:            jobID,
		queue:            info.Queue,
		nnodes:           nnodesOrOne(info.NNodes),
		tRun:             info.TRun,
		preemptibleAfter: *info.PreemptibleAfter,
	}
}

func (c *Controller) removeVictim(jobID uint64) {
	delete(c.victims, jobID)
}

// eligibleCandidates returns the sorted, snapshotted job ids of victims
// eligible at now whose queue currently has victor pressure (spec.md §4.6
// "Queue pressure test" and "Safety": snapshot before mutating).
func (c *Controller) eligibleCandidates(now float64) []uint64 {
	var out []uint64
	for id, v := range c.victims {
		if !v.eligible(now) {
			continue
		}
		if c.queuePressure[v.queue] <= 0 {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Controller) hasEligibleVictim(now float64) bool {
	for _, v := range c.victims {
		if v.eligible(now) && c.queuePressure[v.queue] > 0 {
			return true
		}
	}
	return false
}

// earliestFutureEligibility returns the smallest eligibleAt() among
// victims not yet eligible, and whether any such victim exists.
func (c *Controller) earliestFutureEligibility(now float64) (float64, bool) {
	found := false
	var earliest float64
	for _, v := range c.victims {
		at := v.eligibleAt()
		if at <= now {
			continue
		}
		if !found || at < earliest {
			earliest = at
			found = true
		}
	}
	return earliest, found
}

// reevaluate applies spec.md §4.6 "Control loop": the kill-timer is active
// iff a victor and an eligible victim both exist; the age-timer is active
// iff the kill-timer is inactive and some victim has a future eligibility
// boundary.
func (c *Controller) reevaluate(ctx context.Context) {
	now := c.clock()
	shouldKill := len(c.victors) > 0 && c.hasEligibleVictim(now)

	switch {
	case shouldKill && !c.killTimerActive:
		c.armKillTimer(ctx, c.cfg.KillAfter)
	case !shouldKill && c.killTimerActive:
		c.disarmKillTimer()
	}

	if c.killTimerActive {
		c.disarmAgeTimer()
		return
	}

	earliest, exists := c.earliestFutureEligibility(now)
	if !exists {
		c.disarmAgeTimer()
		return
	}
	c.armAgeTimer(ctx, earliest-now)
}

func (c *Controller) armKillTimer(ctx context.Context, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	cancel, err := c.reactor.After(delay, func() { c.killTick(ctx) })
	if err != nil {
		c.log.Error("killbot: failed to arm kill-timer", "error", err.Error())
		return
	}
	c.killTimerActive = true
	c.killTimerCancel = cancel
}

func (c *Controller) disarmKillTimer() {
	if c.killTimerCancel != nil {
		c.killTimerCancel()
		c.killTimerCancel = nil
	}
	c.killTimerActive = false
}

func (c *Controller) armAgeTimer(ctx context.Context, delay float64) {
	c.disarmAgeTimer()
	if delay < 0 {
		delay = 0
	}
	cancel, err := c.reactor.After(time.Duration(delay*float64(time.Second)), func() {
		c.ageTimerActive = false
		c.ageTimerCancel = nil
		c.reevaluate(ctx)
	})
	if err != nil {
		c.log.Error("killbot: failed to arm age-timer", "error", err.Error())
		return
	}
	c.ageTimerActive = true
	c.ageTimerCancel = cancel
}

func (c *Controller) disarmAgeTimer() {
	if c.ageTimerCancel != nil {
		c.ageTimerCancel()
		c.ageTimerCancel = nil
	}
	c.ageTimerActive = false
}

// killTick invokes the configured handler against the current eligible
// candidates, then rearms itself at kill-repeat if pressure persists,
// otherwise falls back to the age-timer (spec.md §4.6 "kill-timer").
func (c *Controller) killTick(ctx context.Context) {
	c.killTimerActive = false
	now := c.clock()
	candidates := c.eligibleCandidates(now)
	if len(candidates) > 0 {
		killed := c.handler.Kill(ctx, candidates, c.raisePreempt)
		c.log.Info("killbot: kill-timer tick", "candidates", len(candidates), "killed", killed)
	}

	if len(c.victors) > 0 && c.hasEligibleVictim(c.clock()) {
		c.armKillTimer(ctx, c.cfg.KillRepeat)
		return
	}
	c.reevaluate(ctx)
}

// raisePreempt is passed to the Handler as its kill callback. Raising the
// exception may synchronously re-enter handleTransition (spec.md §4.6
// "Safety"); candidates were already snapshotted into a slice by the
// caller before this runs, so that re-entrancy never mutates a map being
// ranged over. The RaiseException call itself retries per c.retryPolicy on
// an Again-classified failure from the job manager (spec.md §7), tagged
// with a request id so retried attempts and any resulting log lines can be
// correlated back to the same kill decision.
func (c *Controller) raisePreempt(ctx context.Context, jobID uint64) error {
	reqID := uuid.NewString()
	note := fmt.Sprintf("preempted by killbot (%s) [req=%s]", c.cfg.Handler, reqID)
	err := retry.Do(ctx, c.retryPolicy, func() error {
		return c.except.RaiseException(ctx, jobID, "preempt", 0, note)
	})
	if err != nil {
		c.log.Error("killbot: raise exception failed", "job_id", jobID, "request_id", reqID, "error", err.Error())
		return err
	}
	return nil
}
