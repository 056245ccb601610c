// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstate

import (
	"context"

	"github.com/fluxrm/flux-core/internal/jsonval"
	"github.com/fluxrm/flux-core/pkg/idset"
)

// JobspecDetails is what a jobspec lookup (triggered by submit) populates
// (spec.md §4.4 "Asynchronous detail fetches"): job name, task/slot
// counts, and user-defined attributes.
type JobspecDetails struct {
	Name         string
	NTasks       int
	NSlots       int
	CoresPerSlot int
	Attributes   jsonval.Value

	// Queue is the jobspec's requested queue name, used by killbot to
	// isolate preemption pressure per queue (spec.md §4.6).
	Queue string
	// PreemptibleAfter is the jobspec's "preemptible-after" key in
	// seconds, or nil if the jobspec omits it (spec.md §3).
	PreemptibleAfter *float64
}

// RDetails is what a resource-set (R) lookup (triggered by alloc)
// populates: the allocated ranks, a rendered nodelist, node count, and
// the allocation's expiration time.
type RDetails struct {
	Ranks      *idset.Set
	Nodelist   string
	NNodes     int
	Expiration float64
}

// DetailLookup is the external collaborator providing jobspec and R
// lookups, a KVS content-store query per spec.md §1/§6. Implementations
// may be asynchronous (the live Ingest path spawns a goroutine per call)
// or simply return immediately (the restart path calls these inline).
type DetailLookup interface {
	LookupJobspec(ctx context.Context, id uint64) (JobspecDetails, error)
	LookupR(ctx context.Context, id uint64) (RDetails, error)
}
