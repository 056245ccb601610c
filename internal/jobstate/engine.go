// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstate

import (
	"context"
	"time"

	"github.com/fluxrm/flux-core/internal/jsonval"
	"github.com/fluxrm/flux-core/internal/reactor"
	fluxctx "github.com/fluxrm/flux-core/pkg/context"
	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
	"github.com/fluxrm/flux-core/pkg/idset"
	"github.com/fluxrm/flux-core/pkg/logging"
	"github.com/fluxrm/flux-core/pkg/watch"
)

// Engine owns the job hashtable and the four index lists described in
// spec.md §4.4. Every mutation happens on the reactor's single thread;
// Ingest/Pause/Unpause/QueryNow all hop onto that thread via reactor.Post and
// block the calling goroutine until the hop completes, the same pattern
// internal/reactor.Future uses for test/cmd glue.
type Engine struct {
	reactor *reactor.Reactor
	lookup  DetailLookup
	log     logging.Logger

	jobs map[uint64]*Job
	idx  *indexes

	paused  bool
	backlog [][]JournalEvent

	idSync map[uint64][]chan Job

	// fault records the first fatal protocol error observed; once set,
	// further Ingest calls short-circuit with it, the Go analogue of
	// "stop the reactor" (spec.md §7).
	fault error

	// hub, when set via SetStateHub, receives a watch.StateChangeEvent for
	// every transition so perilog and killbot can react without polling.
	hub *watch.Hub
	// exceptionObservers are called synchronously, on the reactor thread,
	// for every exception event applied to a job (spec.md §4.5 "On job
	// exception with severity 0 during prolog") -- including ones that do
	// not themselves force a state transition, which is why these can't
	// ride on the state hub.
	exceptionObservers []ExceptionObserver
}

// ExceptionObserver is invoked after an exception event is recorded on a
// job, regardless of whether it forces a state transition.
type ExceptionObserver func(job Job, exc Exception)

// SetStateHub wires hub to receive a StateChangeEvent for every job
// transition from now on. Must be called before Ingest/Restart begins
// processing events.
func (e *Engine) SetStateHub(hub *watch.Hub) {
	e.hub = hub
}

// OnException registers fn to run after every exception event. Must be
// called before Ingest/Restart begins processing events.
func (e *Engine) OnException(fn ExceptionObserver) {
	e.exceptionObservers = append(e.exceptionObservers, fn)
}

// New constructs an Engine. r must already be constructed (not yet
// running); lookup provides the jobspec/R detail fetches.
func New(r *reactor.Reactor, lookup DetailLookup, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	return &Engine{
		reactor: r,
		lookup:  lookup,
		log:     log.With("component", "jobstate"),
		jobs:    make(map[uint64]*Job),
		idx:     newIndexes(),
		idSync:  make(map[uint64][]chan Job),
	}
}

// do runs fn on the reactor thread and blocks the caller until it
// completes or ctx is done. A caller that passes a bare context.Background
// still gets pkg/context's default RPC deadline, so a wedged reactor can't
// hang every Ingest/Pause/Unpause/Query caller forever.
func (e *Engine) do(ctx context.Context, fn func()) error {
	ctx, cancel := fluxctx.EnsureTimeout(ctx, fluxctx.DefaultTimeout)
	defer cancel()

	done := make(chan struct{})
	if err := e.reactor.Post(func() {
		fn()
		close(done)
	}); err != nil {
		return fluxerrors.Wrap(fluxerrors.IO, "jobstate: post to reactor", err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ingest processes a batch of journal events in order. While paused, the
// batch is appended to the backlog instead of being processed (spec.md
// §4.4 "Pause / unpause"). Returns the first fatal protocol error
// encountered, if any.
func (e *Engine) Ingest(ctx context.Context, batch []JournalEvent) error {
	var result error
	err := e.do(ctx, func() {
		if e.fault != nil {
			result = e.fault
			return
		}
		if e.paused {
			e.backlog = append(e.backlog, batch)
			return
		}
		result = e.ingestBatchLocked(batch)
		if result != nil {
			e.fault = result
		}
	})
	if err != nil {
		return err
	}
	return result
}

func (e *Engine) ingestBatchLocked(batch []JournalEvent) error {
	for _, ev := range batch {
		if err := e.processEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// processEvent dedups, queues (if stalled), or dispatches a single event.
// Must run on the reactor thread.
func (e *Engine) processEvent(ev JournalEvent) error {
	job, exists := e.jobs[ev.ID]
	if !exists {
		if ev.Entry.Name != EventSubmit {
			return fluxerrors.Protocolf("jobstate: event %q for unknown job %d before submit", ev.Entry.Name, ev.ID).ForJob(ev.ID)
		}
		job = newJob(ev.ID)
		e.jobs[ev.ID] = job
		e.idx.moveToProcessing(job)
		e.resolveIDSync(job)
	}

	if e.checkSeqDuplicate(job, ev) {
		e.log.Debug("duplicate event discarded", "job_id", job.ID, "seq", ev.EventlogSeq, "last_seq", job.EventlogSeq)
		return nil
	}

	if job.stalled {
		job.pendingEvents = append(job.pendingEvents, ev)
		return nil
	}

	return e.dispatch(job, ev.Entry)
}

// checkSeqDuplicate applies the eventlog_seq dedup rule (spec.md §4.4),
// logging a gap warning when sequence numbers were skipped. memo events
// are never treated as duplicates (they may legitimately reapply on
// resubscription) but still advance last_seq.
func (e *Engine) checkSeqDuplicate(job *Job, ev JournalEvent) bool {
	isMemo := ev.Entry.Name == EventMemo
	duplicate := false

	if job.seenSeq {
		if ev.EventlogSeq <= job.EventlogSeq {
			if !isMemo {
				duplicate = true
			}
		} else if ev.EventlogSeq > job.EventlogSeq+1 {
			e.log.Warn("gap in eventlog sequence", "job_id", job.ID, "expected", job.EventlogSeq+1, "got", ev.EventlogSeq)
		}
	}

	if !job.seenSeq || ev.EventlogSeq > job.EventlogSeq {
		job.EventlogSeq = ev.EventlogSeq
		job.seenSeq = true
	}
	return duplicate
}

// dispatch applies one already-deduplicated entry to job. Used by the live
// Ingest path, drainPendingEvents, and (with submit/alloc overridden
// inline) the restart path.
func (e *Engine) dispatch(job *Job, entry Entry) error {
	switch entry.Name {
	case EventSubmit:
		return e.applySubmit(job, entry)
	case EventDepend:
		return e.applyDepend(job)
	case EventPriority:
		return e.applyPriority(job, entry)
	case EventUrgency:
		return e.applyUrgency(job, entry)
	case EventAlloc:
		return e.applyAlloc(job, entry)
	case EventFinish:
		return e.applyFinish(job, entry)
	case EventClean:
		return e.applyClean(job, entry)
	case EventException:
		return e.applyException(job, entry)
	case EventAnnotations:
		return e.applyAnnotations(job, entry)
	case EventMemo:
		return e.applyMemo(job, entry)
	case EventDependencyAdd:
		return e.applyDependencyAdd(job, entry)
	case EventDependencyRemove:
		return e.applyDependencyRemove(job, entry)
	case EventFluxRestart:
		return e.applyFluxRestart(job)
	default:
		return fluxerrors.Protocolf("jobstate: unrecognized event %q", entry.Name).ForJob(job.ID)
	}
}

// transition moves job to s and publishes a StateChangeEvent to the state
// hub, if one is wired. Every job-state mutation site in this file should
// go through this instead of calling job.transitionTo directly, so
// perilog/killbot never have to poll for entry into run/sched/cleanup.
func (e *Engine) transition(job *Job, s State) {
	prev := job.State
	job.transitionTo(s)
	e.publishTransition(job, prev)
}

func (e *Engine) publishTransition(job *Job, prev State) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(watch.StateChangeEvent{
		JobID:         job.ID,
		PreviousState: prev.String(),
		NewState:      job.State.String(),
		EventTime:     time.Now(),
	})
}

func (e *Engine) requireState(job *Job, want State) bool {
	if job.State != want {
		e.log.Warn("event arrived in unexpected state; ignoring transition",
			"job_id", job.ID, "have", job.State.String(), "want", want.String())
		return false
	}
	return true
}

// drainPendingEvents replays events queued while job was stalled. If
// dispatch re-stalls the job partway through (e.g. alloc needing an R
// lookup), the remaining queued events are put back for the next drain.
func (e *Engine) drainPendingEvents(job *Job) {
	queued := job.pendingEvents
	job.pendingEvents = nil
	for i, ev := range queued {
		if job.stalled {
			job.pendingEvents = append(job.pendingEvents, queued[i:]...)
			return
		}
		if err := e.dispatch(job, ev.Entry); err != nil {
			e.fault = err
			return
		}
	}
}

func (e *Engine) resolveIDSync(job *Job) {
	waiters := e.idSync[job.ID]
	if len(waiters) == 0 {
		return
	}
	delete(e.idSync, job.ID)
	snap := job.Snapshot()
	for _, ch := range waiters {
		ch <- snap
		close(ch)
	}
}

// --- event handlers ---

func (e *Engine) applySubmit(job *Job, entry Entry) error {
	if job.StatesMask.Has(StateDepend) {
		return fluxerrors.Protocolf("jobstate: duplicate submit for job %d", job.ID).ForJob(job.ID)
	}

	if owner, ok := ctxInt(entry.Context, "userid"); ok {
		job.Owner = uint32(owner)
	}
	if urgency, ok := ctxInt(entry.Context, "urgency"); ok {
		job.Urgency = int(urgency)
	}
	job.TSubmit = entry.Timestamp

	job.stalled = true
	id := job.ID
	go func() {
		details, err := e.lookup.LookupJobspec(context.Background(), id)
		_ = e.reactor.Post(func() {
			j, ok := e.jobs[id]
			if !ok {
				return
			}
			e.completeSubmit(j, details, err)
		})
	}()
	return nil
}

func (e *Engine) completeSubmit(job *Job, details JobspecDetails, err error) {
	if err != nil {
		e.log.Warn("jobspec lookup failed; using defaults", "job_id", job.ID, "error", err.Error())
	} else {
		job.Name = details.Name
		job.NTasks = details.NTasks
		job.NSlots = details.NSlots
		job.CoresPerSlot = details.CoresPerSlot
		job.Queue = details.Queue
		job.PreemptibleAfter = details.PreemptibleAfter
		if !details.Attributes.IsNull() {
			job.Attributes = details.Attributes
		}
	}

	e.transition(job, StateDepend)
	job.stalled = false
	e.idx.moveToPending(job)
	e.drainPendingEvents(job)
}

func (e *Engine) applyDepend(job *Job) error {
	if !e.requireState(job, StateDepend) {
		return nil
	}
	e.transition(job, StatePriority)
	return nil
}

func (e *Engine) applyPriority(job *Job, entry Entry) error {
	if priority, ok := ctxInt(entry.Context, "priority"); ok {
		changed := int(priority) != job.Priority
		job.Priority = int(priority)
		if changed {
			defer e.idx.resortPending(job)
		}
	}
	if job.State == StatePriority {
		e.transition(job, StateSched)
		job.TSched = entry.Timestamp
	}
	return nil
}

func (e *Engine) applyUrgency(job *Job, entry Entry) error {
	if urgency, ok := ctxInt(entry.Context, "urgency"); ok {
		job.Urgency = int(urgency)
	}
	return nil
}

func (e *Engine) applyAlloc(job *Job, entry Entry) error {
	if !e.requireState(job, StateSched) {
		return nil
	}

	// Convenience shortcut: a journal producer may embed the allocated
	// ranks directly in the alloc context instead of requiring a
	// separate R lookup round trip.
	if ranksStr, ok := ctxString(entry.Context, "ranks"); ok {
		ranks, err := idset.Decode(ranksStr)
		if err != nil {
			return fluxerrors.NewJobEventError(job.ID, string(EventAlloc), err)
		}
		job.Ranks = ranks
		job.NNodes = int(ranks.Count())
		job.Nodelist = ranks.String()
		e.transition(job, StateRun)
		job.TRun = entry.Timestamp
		e.idx.moveToRunning(job)
		return nil
	}

	job.stalled = true
	e.idx.moveToProcessing(job)
	id := job.ID
	allocTime := entry.Timestamp
	go func() {
		details, err := e.lookup.LookupR(context.Background(), id)
		_ = e.reactor.Post(func() {
			j, ok := e.jobs[id]
			if !ok {
				return
			}
			e.completeAlloc(j, allocTime, details, err)
		})
	}()
	return nil
}

func (e *Engine) completeAlloc(job *Job, allocTime float64, details RDetails, err error) {
	if err != nil {
		e.log.Warn("R lookup failed; using defaults", "job_id", job.ID, "error", err.Error())
	} else {
		job.Ranks = details.Ranks
		job.Nodelist = details.Nodelist
		job.NNodes = details.NNodes
		job.Expiration = details.Expiration
	}

	e.transition(job, StateRun)
	job.TRun = allocTime
	job.stalled = false
	e.idx.moveToRunning(job)
	e.drainPendingEvents(job)
}

func (e *Engine) applyFinish(job *Job, entry Entry) error {
	if !e.requireState(job, StateRun) {
		return nil
	}
	status, _ := ctxInt(entry.Context, "status")
	job.WaitStatus = int(status)
	job.Success = status == 0
	e.transition(job, StateCleanup)
	return nil
}

func (e *Engine) applyClean(job *Job, entry Entry) error {
	if !e.requireState(job, StateCleanup) {
		return nil
	}
	e.transition(job, StateInactive)
	job.TInactive = entry.Timestamp
	job.computeResult()
	e.idx.moveToInactive(job)
	return nil
}

func (e *Engine) applyException(job *Job, entry Entry) error {
	typ, _ := ctxString(entry.Context, "type")
	sev, _ := ctxInt(entry.Context, "severity")
	note, _ := ctxString(entry.Context, "note")
	job.recordException(Exception{Type: typ, Severity: int(sev), Note: note, Context: entry.Context})

	if len(e.exceptionObservers) > 0 {
		snap := job.Snapshot()
		for _, fn := range e.exceptionObservers {
			fn(snap, *job.Exception)
		}
	}

	if sev == 0 && !job.forcedCleanup && (job.State == StateDepend || job.State == StateSched) {
		job.forcedCleanup = true
		e.transition(job, StateCleanup)
		job.TCleanup = entry.Timestamp
		e.idx.moveToRunning(job)
	}
	return nil
}

func (e *Engine) applyAnnotations(job *Job, entry Entry) error {
	if entry.Context.IsNull() {
		job.Annotations = jsonval.Object()
		return nil
	}
	job.Annotations = entry.Context
	return nil
}

func (e *Engine) applyMemo(job *Job, entry Entry) error {
	patch := jsonval.Object()
	patch.Set("user", entry.Context)
	job.Annotations = jsonval.DeepMerge(job.Annotations, patch)
	return nil
}

func (e *Engine) applyDependencyAdd(job *Job, entry Entry) error {
	desc, ok := ctxString(entry.Context, "description")
	if !ok {
		return fluxerrors.Protocolf("jobstate: dependency-add missing description").ForJob(job.ID)
	}
	if err := job.Dependencies.Add(desc); err != nil {
		e.log.Warn("dependency-add rejected", "job_id", job.ID, "description", desc, "error", err.Error())
	}
	return nil
}

func (e *Engine) applyDependencyRemove(job *Job, entry Entry) error {
	if desc, ok := ctxString(entry.Context, "description"); ok {
		job.Dependencies.Remove(desc)
	}
	return nil
}

func (e *Engine) applyFluxRestart(job *Job) error {
	if job.State != StateSched {
		return nil
	}
	prev := job.State
	job.State = StatePriority
	job.StatesMask &^= maskBit(StateSched)
	e.publishTransition(job, prev)
	return nil
}
