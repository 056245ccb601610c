// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package jobstate implements the job state engine (spec.md §4.4): an
// event-sourced, monotonic job-lifecycle tracker driven by a durable
// journal of job events, reconstituting state on restart and feeding four
// indexed views (pending, running, inactive, processing).
package jobstate

import (
	"container/list"

	"github.com/fluxrm/flux-core/internal/jsonval"
	"github.com/fluxrm/flux-core/pkg/grudgeset"
	"github.com/fluxrm/flux-core/pkg/idset"
)

// State is one stage of a job's lifecycle (spec.md §3 state machine).
type State int

const (
	StateNew State = iota
	StateDepend
	StatePriority
	StateSched
	StateRun
	StateCleanup
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDepend:
		return "depend"
	case StatePriority:
		return "priority"
	case StateSched:
		return "sched"
	case StateRun:
		return "run"
	case StateCleanup:
		return "cleanup"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// StatesMask is a bitmask of states a job has ever occupied.
type StatesMask uint32

func maskBit(s State) StatesMask { return 1 << StatesMask(s) }

// Has reports whether m includes s.
func (m StatesMask) Has(s State) bool { return m&maskBit(s) != 0 }

// Result is the outcome computed when a job reaches StateInactive.
type Result string

const (
	ResultNone      Result = ""
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	ResultCanceled  Result = "canceled"
	ResultTimeout   Result = "timeout"
)

// Exception is the first-or-lowest-severity exception observed for a job
// (spec.md §3: "capturing the first and lowest-severity exception observed").
type Exception struct {
	Type     string
	Severity int
	Note     string
	Context  jsonval.Value
}

// indexKind identifies which of the engine's four ordered index lists a
// job currently belongs to, if any.
type indexKind int

const (
	indexNone indexKind = iota
	indexPending
	indexRunning
	indexInactive
	indexProcessing
)

// Job is the central entity of the state engine (spec.md §3). Exported
// fields are safe to read from a query response; mutation happens only
// through Engine methods running on the engine's single reactor thread.
type Job struct {
	ID    uint64
	Owner uint32

	Urgency  int
	Priority int

	State      State
	StatesMask StatesMask

	TSubmit   float64
	TSched    float64
	TRun      float64
	TCleanup  float64
	TInactive float64

	Ranks    *idset.Set
	Nodelist string
	NNodes   int
	NTasks   int

	// Queue and PreemptibleAfter come from the jobspec lookup triggered by
	// submit (spec.md §3 "Victims / Victors"); PreemptibleAfter is nil when
	// the jobspec omits the key, which killbot treats as "not a victim
	// candidate" rather than "preemptible after zero seconds".
	Queue            string
	PreemptibleAfter *float64

	Name         string
	NSlots       int
	CoresPerSlot int
	Attributes   jsonval.Value

	Expiration float64

	WaitStatus int
	Success    bool
	Result     Result

	Exception *Exception

	Dependencies *grudgeset.Set
	Annotations  jsonval.Value

	// EventlogSeq is the highest eventlog_seq consumed for this job, used
	// to discard duplicate re-deliveries (spec.md §4.4 event ordering).
	EventlogSeq uint64
	// seenSeq is false until the first event has been applied, so that an
	// eventlog_seq of 0 on the very first event is never mistaken for a
	// duplicate of itself.
	seenSeq bool

	// stalled is true while the job is waiting on an asynchronous jobspec
	// or R lookup; further events queue in pendingEvents instead of
	// applying immediately (spec.md §4.4 "Asynchronous detail fetches").
	stalled       bool
	pendingEvents []JournalEvent

	// forcedCleanup records whether a severity-0 exception has already forced
	// a cleanup transition, so a second one is a no-op rather than a
	// redundant state change.
	forcedCleanup bool

	index     indexKind
	elem      *list.Element
}

func newJob(id uint64) *Job {
	return &Job{
		ID:           id,
		State:        StateNew,
		StatesMask:   maskBit(StateNew),
		Dependencies: grudgeset.New(),
		Annotations:  jsonval.Object(),
		Ranks:        nil,
	}
}

// transitionTo moves the job to s, recording it in states_mask. It never
// clears bits — the one exception (flux-restart clearing the sched bit)
// is applied by the caller directly.
func (j *Job) transitionTo(s State) {
	j.State = s
	j.StatesMask |= maskBit(s)
}

// recordException stores exc if it is the first exception seen or carries
// a strictly lower severity than the one already recorded.
func (j *Job) recordException(exc Exception) {
	if j.Exception == nil || exc.Severity < j.Exception.Severity {
		e := exc
		j.Exception = &e
	}
}

func (j *Job) computeResult() {
	switch {
	case j.Success:
		j.Result = ResultCompleted
	case j.Exception != nil && j.Exception.Type == "cancel":
		j.Result = ResultCanceled
	case j.Exception != nil && j.Exception.Type == "timeout":
		j.Result = ResultTimeout
	default:
		j.Result = ResultFailed
	}
}

// Snapshot returns a shallow copy to hand to a query caller, with the index
// handle and queued events cleared. Pointer and map-backed fields
// (Dependencies, Ranks, Exception, Annotations, Attributes) still share
// storage with the engine's job; the copy does not isolate them.
func (j *Job) Snapshot() Job {
	cp := *j
	cp.elem = nil
	cp.pendingEvents = nil
	return cp
}
