// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package report renders the "external glue" uptime/summary text spec.md
// §2 names but leaves unspecified: a human-readable digest of job counts
// by state and per-queue node pressure, the Go analogue of `flux uptime`
// and comparable summary commands that sit outside the core subsystems.
package report

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fluxrm/flux-core/internal/jobstate"
)

var titleCaser = cases.Title(language.English)

// StateCounts tallies jobs by lifecycle state.
type StateCounts struct {
	New       int
	Depend    int
	Priority  int
	Sched     int
	Run       int
	Cleanup   int
	Inactive  int
}

// Total returns the sum of all counted states.
func (c StateCounts) Total() int {
	return c.New + c.Depend + c.Priority + c.Sched + c.Run + c.Cleanup + c.Inactive
}

// QueuePressure is the aggregate node demand for one queue, split between
// jobs already running (run or cleanup state) and jobs in the sched state
// still waiting for resources. Jobs in other states are not counted.
type QueuePressure struct {
	Queue       string
	RunningNodes int
	PendingNodes int
}

// Summary is a point-in-time digest of the job state engine, the payload
// behind the rendered text Summarize produces.
type Summary struct {
	Counts   StateCounts
	ByQueue  []QueuePressure
}

// Snapshot reads every index of engine and builds a Summary. It takes the
// already-materialized job lists rather than the *jobstate.Engine itself
// so callers (pkg/debugserver, a future `flux uptime` binary) can build a
// Summary from either a live engine or a recorded fixture in tests.
func Snapshot(pending, running, inactive, processing []jobstate.Job) Summary {
	var s Summary
	queueNodes := make(map[string]*QueuePressure)

	getQueue := func(name string) *QueuePressure {
		if name == "" {
			name = "(default)"
		}
		qp, ok := queueNodes[name]
		if !ok {
			qp = &QueuePressure{Queue: name}
			queueNodes[name] = qp
		}
		return qp
	}

	tally := func(j jobstate.Job) {
		switch j.State {
		case jobstate.StateNew:
			s.Counts.New++
		case jobstate.StateDepend:
			s.Counts.Depend++
		case jobstate.StatePriority:
			s.Counts.Priority++
		case jobstate.StateSched:
			s.Counts.Sched++
			getQueue(j.Queue).PendingNodes += nnodesOrOne(j)
		case jobstate.StateRun:
			s.Counts.Run++
			getQueue(j.Queue).RunningNodes += nnodesOrOne(j)
		case jobstate.StateCleanup:
			s.Counts.Cleanup++
			getQueue(j.Queue).RunningNodes += nnodesOrOne(j)
		case jobstate.StateInactive:
			s.Counts.Inactive++
		}
	}

	for _, j := range pending {
		tally(j)
	}
	for _, j := range running {
		tally(j)
	}
	for _, j := range inactive {
		tally(j)
	}
	for _, j := range processing {
		tally(j)
	}

	for _, qp := range queueNodes {
		s.ByQueue = append(s.ByQueue, *qp)
	}
	sort.Slice(s.ByQueue, func(i, j int) bool { return s.ByQueue[i].Queue < s.ByQueue[j].Queue })

	return s
}

func nnodesOrOne(j jobstate.Job) int {
	if j.NNodes <= 0 {
		return 1
	}
	return j.NNodes
}

// Render formats s as the multi-line text a human operator reads, titling
// each section header the way the teacher's report helpers title-case
// field labels for display.
func Render(s Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", titleCaser.String("job summary"))
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("new")+":", s.Counts.New)
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("depend")+":", s.Counts.Depend)
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("priority")+":", s.Counts.Priority)
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("sched")+":", s.Counts.Sched)
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("run")+":", s.Counts.Run)
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("cleanup")+":", s.Counts.Cleanup)
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("inactive")+":", s.Counts.Inactive)
	fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String("total")+":", s.Counts.Total())

	if len(s.ByQueue) > 0 {
		fmt.Fprintf(&b, "%s\n", titleCaser.String("queue pressure"))
		for _, qp := range s.ByQueue {
			fmt.Fprintf(&b, "  %-16s running=%-4d pending=%-4d\n", qp.Queue, qp.RunningNodes, qp.PendingNodes)
		}
	}

	return b.String()
}

// Summarize is the one-shot convenience most callers want: snapshot the
// engine's four indexes and render them as text.
func Summarize(pending, running, inactive, processing []jobstate.Job) string {
	return Render(Snapshot(pending, running, inactive, processing))
}
