// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package killbot

import "context"

// overkillHandler raises a preempt exception for every candidate
// (spec.md §4.6 "overkill: iterate victims; for each eligible victim
// whose queue has at least one victor, raise a preempt exception").
type overkillHandler struct{}

func (overkillHandler) Kill(ctx context.Context, candidates []uint64, raise func(ctx context.Context, jobID uint64) error) int {
	killed := 0
	for _, id := range candidates {
		if err := raise(ctx, id); err != nil {
			continue
		}
		killed++
	}
	return killed
}

// onekillHandler is overkillHandler but stops after the first kill
// (spec.md §4.6).
type onekillHandler struct{}

func (onekillHandler) Kill(ctx context.Context, candidates []uint64, raise func(ctx context.Context, jobID uint64) error) int {
	for _, id := range candidates {
		if err := raise(ctx, id); err != nil {
			continue
		}
		return 1
	}
	return 0
}
