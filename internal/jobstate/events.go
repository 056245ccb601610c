// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstate

import "github.com/fluxrm/flux-core/internal/jsonval"

// EventName enumerates the recognized journal event names (spec.md §4.4).
type EventName string

const (
	EventSubmit           EventName = "submit"
	EventDepend           EventName = "depend"
	EventPriority         EventName = "priority"
	EventAlloc            EventName = "alloc"
	EventFinish           EventName = "finish"
	EventClean            EventName = "clean"
	EventUrgency          EventName = "urgency"
	EventException        EventName = "exception"
	EventAnnotations      EventName = "annotations"
	EventMemo             EventName = "memo"
	EventDependencyAdd    EventName = "dependency-add"
	EventDependencyRemove EventName = "dependency-remove"
	EventFluxRestart      EventName = "flux-restart"
)

// Entry is one eventlog record: {timestamp, name, context} (spec.md §6).
type Entry struct {
	Timestamp float64
	Name      EventName
	Context   jsonval.Value
}

// JournalEvent envelopes an Entry with its job id and journal sequence
// number, the unit job-manager.events-journal actually yields.
type JournalEvent struct {
	ID          uint64
	EventlogSeq uint64
	Entry       Entry
}

func ctxString(ctx jsonval.Value, key string) (string, bool) {
	v, ok := ctx.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func ctxInt(ctx jsonval.Value, key string) (int64, bool) {
	v, ok := ctx.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

func ctxFloat(ctx jsonval.Value, key string) (float64, bool) {
	v, ok := ctx.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}
