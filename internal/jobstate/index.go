// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstate

import "container/list"

// indexes holds the four ordered views described in spec.md §4.4. Each
// list stores *Job values directly — intrusive handles into the owning
// hashtable per the design note in §9 ("do not hold two strong references
// to the same job"): the hashtable owns the Job, these lists only ever
// hold the same pointer.
type indexes struct {
	pending    *list.List // {depend, priority, sched}: desc priority, asc id
	running    *list.List // {run, cleanup}: desc t_run
	inactiveL  *list.List // {inactive}: desc t_inactive
	processing *list.List // {new} or stalled-on-lookup: insertion order
}

func newIndexes() *indexes {
	return &indexes{
		pending:    list.New(),
		running:    list.New(),
		inactiveL:  list.New(),
		processing: list.New(),
	}
}

func (ix *indexes) listFor(kind indexKind) *list.List {
	switch kind {
	case indexPending:
		return ix.pending
	case indexRunning:
		return ix.running
	case indexInactive:
		return ix.inactiveL
	case indexProcessing:
		return ix.processing
	default:
		return nil
	}
}

// remove detaches j from whichever index list currently holds it.
func (ix *indexes) remove(j *Job) {
	if j.index == indexNone {
		return
	}
	if l := ix.listFor(j.index); l != nil {
		l.Remove(j.elem)
	}
	j.index = indexNone
	j.elem = nil
}

// moveToProcessing appends j to the processing index (unsorted: jobs
// awaiting an asynchronous detail fetch, spec.md §4.4).
func (ix *indexes) moveToProcessing(j *Job) {
	ix.remove(j)
	j.elem = ix.processing.PushBack(j)
	j.index = indexProcessing
}

// moveToPending inserts j into the pending index, sorted descending by
// priority then ascending by id, scanning from whichever end is nearer to
// j's priority (spec.md §4.4).
func (ix *indexes) moveToPending(j *Job) {
	ix.remove(j)

	l := ix.pending
	if l.Len() == 0 {
		j.elem = l.PushBack(j)
		j.index = indexPending
		return
	}

	front := l.Front().Value.(*Job)
	back := l.Back().Value.(*Job)
	scanFromFront := absInt(j.Priority-front.Priority) <= absInt(j.Priority-back.Priority)

	if scanFromFront {
		for e := l.Front(); e != nil; e = e.Next() {
			cur := e.Value.(*Job)
			if pendingLess(j, cur) {
				j.elem = l.InsertBefore(j, e)
				j.index = indexPending
				return
			}
		}
		j.elem = l.PushBack(j)
	} else {
		for e := l.Back(); e != nil; e = e.Prev() {
			cur := e.Value.(*Job)
			if !pendingLess(j, cur) {
				j.elem = l.InsertAfter(j, e)
				j.index = indexPending
				return
			}
		}
		j.elem = l.PushFront(j)
	}
	j.index = indexPending
}

// pendingLess reports whether a sorts before b in the pending index:
// descending priority, then ascending id.
func pendingLess(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// moveToRunning inserts j into the running index, sorted descending by t_run.
func (ix *indexes) moveToRunning(j *Job) {
	ix.remove(j)
	l := ix.running
	for e := l.Front(); e != nil; e = e.Next() {
		cur := e.Value.(*Job)
		if j.TRun > cur.TRun {
			j.elem = l.InsertBefore(j, e)
			j.index = indexRunning
			return
		}
	}
	j.elem = l.PushBack(j)
	j.index = indexRunning
}

// moveToInactive inserts j into the inactive index, sorted descending by
// t_inactive.
func (ix *indexes) moveToInactive(j *Job) {
	ix.remove(j)
	l := ix.inactiveL
	for e := l.Front(); e != nil; e = e.Next() {
		cur := e.Value.(*Job)
		if j.TInactive > cur.TInactive {
			j.elem = l.InsertBefore(j, e)
			j.index = indexInactive
			return
		}
	}
	j.elem = l.PushBack(j)
	j.index = indexInactive
}

// resortPending removes j from the pending index and re-inserts it at its
// sorted position, used when a job's priority changes in place.
func (ix *indexes) resortPending(j *Job) {
	if j.index == indexPending {
		ix.moveToPending(j)
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// snapshotList materializes the *Job values of l in current order.
func snapshotList(l *list.List) []*Job {
	out := make([]*Job, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Job))
	}
	return out
}

// rebuildSorted clears and refills l from jobs in sort order, used by
// restart for one final sort pass over each index once every job has been
// replayed (spec.md §4.4 "After full restart the running and inactive
// lists are sorted once").
func rebuildSorted(l *list.List, jobs []*Job, less func(a, b *Job) bool) {
	l.Init()
	sorted := append([]*Job(nil), jobs...)
	insertionSort(sorted, less)
	for _, j := range sorted {
		j.elem = l.PushBack(j)
	}
}

func insertionSort(jobs []*Job, less func(a, b *Job) bool) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && less(jobs[j], jobs[j-1]); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}
