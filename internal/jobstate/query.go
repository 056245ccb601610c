// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstate

import "context"

// QueryNow returns a snapshot of every requested job id that is currently
// known, plus the subset of ids that were not found. It never blocks
// waiting for a future submit — callers that want to wait for an id that
// doesn't exist yet should use Subscribe (spec.md §4.4 "id-sync sidetable").
func (e *Engine) QueryNow(ctx context.Context, ids []uint64) (map[uint64]Job, []uint64, error) {
	found := make(map[uint64]Job, len(ids))
	var missing []uint64

	err := e.do(ctx, func() {
		for _, id := range ids {
			if job, ok := e.jobs[id]; ok {
				found[id] = job.Snapshot()
			} else {
				missing = append(missing, id)
			}
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return found, missing, nil
}

// Subscribe registers interest in id. If id is already known the snapshot
// is delivered on the returned channel immediately; otherwise the request
// waits in the id-sync sidetable until a submit event creates the job
// (spec.md §4.4). The returned cancel func must be called once the caller
// is no longer interested, to avoid leaking the waiter slot.
func (e *Engine) Subscribe(ctx context.Context, id uint64) (<-chan Job, func(), error) {
	ch := make(chan Job, 1)

	err := e.do(ctx, func() {
		if job, ok := e.jobs[id]; ok {
			ch <- job.Snapshot()
			close(ch)
			return
		}
		e.idSync[id] = append(e.idSync[id], ch)
	})
	if err != nil {
		return nil, func() {}, err
	}

	cancel := func() {
		_ = e.reactor.Post(func() {
			waiters := e.idSync[id]
			for i, w := range waiters {
				if w == ch {
					e.idSync[id] = append(waiters[:i], waiters[i+1:]...)
					break
				}
			}
			if len(e.idSync[id]) == 0 {
				delete(e.idSync, id)
			}
		})
	}
	return ch, cancel, nil
}

// Pause stops Ingest from applying further batches; they accumulate in a
// backlog instead (spec.md §4.4 "Pause / unpause").
func (e *Engine) Pause(ctx context.Context) error {
	return e.do(ctx, func() {
		e.paused = true
	})
}

// Unpause drains the backlog in arrival order, then resumes normal
// processing.
func (e *Engine) Unpause(ctx context.Context) error {
	return e.do(ctx, func() {
		e.paused = false
		backlog := e.backlog
		e.backlog = nil
		for _, batch := range backlog {
			if e.fault != nil {
				return
			}
			if err := e.ingestBatchLocked(batch); err != nil {
				e.fault = err
				return
			}
		}
	})
}

// ListPending returns a snapshot of the pending index in order (desc
// priority, asc id).
func (e *Engine) ListPending(ctx context.Context) ([]Job, error) {
	return e.snapshotIndex(ctx, indexPending)
}

// ListRunning returns a snapshot of the running index in order (desc t_run).
func (e *Engine) ListRunning(ctx context.Context) ([]Job, error) {
	return e.snapshotIndex(ctx, indexRunning)
}

// ListInactive returns a snapshot of the inactive index in order (desc
// t_inactive).
func (e *Engine) ListInactive(ctx context.Context) ([]Job, error) {
	return e.snapshotIndex(ctx, indexInactive)
}

// ListProcessing returns a snapshot of jobs currently stalled on an
// asynchronous detail fetch or otherwise not yet placed in another index.
func (e *Engine) ListProcessing(ctx context.Context) ([]Job, error) {
	return e.snapshotIndex(ctx, indexProcessing)
}

func (e *Engine) snapshotIndex(ctx context.Context, kind indexKind) ([]Job, error) {
	var out []Job
	err := e.do(ctx, func() {
		l := e.idx.listFor(kind)
		jobs := snapshotList(l)
		out = make([]Job, len(jobs))
		for i, j := range jobs {
			out[i] = j.Snapshot()
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
