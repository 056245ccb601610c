// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package grudgeset implements the "grudge set" described in spec.md §3 and
// §9: a set of strings that remembers everything ever added, refusing
// re-insertion of a value once it has been removed. Job dependencies use
// this so a satisfied dependency cannot be re-added by a stray duplicate
// dependency-add event.
package grudgeset

import fluxerrors "github.com/fluxrm/flux-core/pkg/errors"

// state is the lifecycle of one ever-seen member: live (currently a
// member) or tombstoned (removed, and therefore barred from re-entry).
type state int

const (
	stateLive state = iota
	stateTombstoned
)

// Set is a grudge-set: Add rejects a value that was ever present, live or
// tombstoned, with Exists. Remove on a non-member is a no-op, not an error.
type Set struct {
	members map[string]state
	live    int
}

// New returns an empty grudge-set.
func New() *Set {
	return &Set{members: make(map[string]state)}
}

// Add inserts value. It fails with Exists if value is currently live or was
// ever tombstoned.
func (s *Set) Add(value string) error {
	if _, seen := s.members[value]; seen {
		return fluxerrors.Existsf("grudgeset: %q was already added", value)
	}
	s.members[value] = stateLive
	s.live++
	return nil
}

// Remove tombstones value, barring future re-insertion. Removing a
// non-member is a no-op.
func (s *Set) Remove(value string) {
	st, ok := s.members[value]
	if !ok || st == stateTombstoned {
		return
	}
	s.members[value] = stateTombstoned
	s.live--
}

// Contains reports whether value is currently a live member.
func (s *Set) Contains(value string) bool {
	return s.members[value] == stateLive
}

// LiveCount returns the number of currently-live members.
func (s *Set) LiveCount() int {
	return s.live
}

// EverUsedCount returns the number of values ever added, live or tombstoned.
func (s *Set) EverUsedCount() int {
	return len(s.members)
}

// LiveMembers returns the currently-live members in unspecified order.
func (s *Set) LiveMembers() []string {
	out := make([]string, 0, s.live)
	for v, st := range s.members {
		if st == stateLive {
			out = append(out, v)
		}
	}
	return out
}
