// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package idset is a compact, sorted representation of non-negative
// integer sets — job ranks, broker ranks, pending allocation ids — backed
// by a recursive van Emde Boas tree whose base clusters are
// github.com/bits-and-blooms/bitset bitmaps, with a canonical textual
// encoding ("0-3,7,9-12"). The vEB layout gives Test/Next/Prev/First/Last
// O(log m) behavior (m = bits needed for the set's padded universe)
// instead of the O(universe) scan a flat bitmap would require.
package idset

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// Invalid is the sentinel returned by iteration and lookup operations when
// no id satisfies the request.
const Invalid = ^uint64(0)

// baseUniverse is the largest universe size handled directly by a single
// bitset.BitSet leaf instead of splitting into cluster/summary children.
// 64 matches a machine word, so every leaf operation (member, insert,
// delete, min/max scan) is a handful of O(1) bit ops.
const baseUniverse = 64

// Flag controls allocation and mutation behavior of a Set.
type Flag uint

const (
	// FlagAutogrow lets Set/RangeSet grow the backing capacity instead of
	// failing when an id is out of range.
	FlagAutogrow Flag = 1 << iota
	// FlagInitFull creates the set with every id in [0, capacity) a member.
	FlagInitFull
	// FlagLazyCount makes Count() recompute the member count by iteration
	// instead of returning the running tally (the tally is still updated on
	// every mutation).
	FlagLazyCount
	// FlagAllocRoundRobin makes Alloc continue searching from the
	// previously allocated id instead of always restarting at 0.
	FlagAllocRoundRobin
)

const allFlags = FlagAutogrow | FlagInitFull | FlagLazyCount | FlagAllocRoundRobin

// vebNode is one level of the recursive van Emde Boas tree. A node with
// universe <= baseUniverse is a leaf: membership lives entirely in base,
// a single bitset.BitSet. A node with universe > baseUniverse is internal:
// it splits into sqrt(universe) clusters of size sqrt(universe), plus a
// summary node tracking which clusters are non-empty. min/max are cached
// at every level (and excluded from the recursive substructure) so a set
// with zero or one member never touches a child at all — the classic vEB
// trick that turns the naive T(u) = 2T(sqrt(u)) + O(1) recurrence into
// T(u) = T(sqrt(u)) + O(1) = O(log log u).
type vebNode struct {
	universe uint64
	min, max uint64 // Invalid when the node is empty

	// leaf fields
	base *bitset.BitSet

	// internal fields
	clusterSize uint64
	numClusters uint64
	clusters    []*vebNode
	summary     *vebNode
}

func newVebNode(universe uint64) *vebNode {
	v := &vebNode{universe: universe, min: Invalid, max: Invalid}
	if universe <= baseUniverse {
		v.base = bitset.New(uint(universe))
		return v
	}
	m := uint(bits.TrailingZeros64(universe)) // universe is always a power of two
	low := m / 2
	v.clusterSize = uint64(1) << low
	v.numClusters = universe / v.clusterSize
	v.clusters = make([]*vebNode, v.numClusters)
	return v
}

func (v *vebNode) isEmpty() bool {
	return v.min == Invalid
}

func (v *vebNode) member(x uint64) bool {
	if v.isEmpty() {
		return false
	}
	if x == v.min || x == v.max {
		return true
	}
	if v.base != nil {
		return v.base.Test(uint(x))
	}
	c := x / v.clusterSize
	cl := v.clusters[c]
	if cl == nil {
		return false
	}
	return cl.member(x % v.clusterSize)
}

func (v *vebNode) insert(x uint64) {
	if v.isEmpty() {
		v.min, v.max = x, x
		if v.base != nil {
			v.base.Set(uint(x))
		}
		return
	}
	if x == v.min || x == v.max {
		return
	}
	if x < v.min {
		x, v.min = v.min, x
	}
	if v.base != nil {
		v.base.Set(uint(x))
		v.base.Set(uint(v.min))
		if x > v.max {
			v.max = x
		}
		return
	}
	if x > v.max {
		v.max = x
	}
	c := x / v.clusterSize
	i := x % v.clusterSize
	if v.clusters[c] == nil {
		v.clusters[c] = newVebNode(v.clusterSize)
	}
	if v.clusters[c].isEmpty() {
		if v.summary == nil {
			v.summary = newVebNode(v.numClusters)
		}
		v.summary.insert(c)
	}
	v.clusters[c].insert(i)
}

func (v *vebNode) deleteVal(x uint64) {
	if v.min == v.max {
		v.min, v.max = Invalid, Invalid
		if v.base != nil {
			v.base.Clear(uint(x))
		}
		return
	}
	if v.base != nil {
		wasMax := x == v.max
		v.base.Clear(uint(x))
		v.min = v.leafMin()
		if wasMax {
			v.max = v.leafMax()
		}
		return
	}
	if x == v.min {
		firstCluster := v.summary.min
		x = firstCluster*v.clusterSize + v.clusters[firstCluster].min
		v.min = x
	}
	c := x / v.clusterSize
	i := x % v.clusterSize
	v.clusters[c].deleteVal(i)
	if v.clusters[c].isEmpty() {
		v.summary.deleteVal(c)
		if x == v.max {
			sMax := v.summary.max
			if sMax == Invalid {
				v.max = v.min
			} else {
				v.max = sMax*v.clusterSize + v.clusters[sMax].max
			}
		}
	} else if x == v.max {
		v.max = c*v.clusterSize + v.clusters[c].max
	}
}

// successor returns the smallest member strictly greater than x, or
// Invalid. x must be < v.universe.
func (v *vebNode) successor(x uint64) uint64 {
	if v.base != nil {
		return v.leafSuccessor(x)
	}
	if !v.isEmpty() && x < v.min {
		return v.min
	}
	c := x / v.clusterSize
	i := x % v.clusterSize
	if cl := v.clusters[c]; cl != nil && !cl.isEmpty() && i < cl.max {
		return c*v.clusterSize + cl.successor(i)
	}
	succCluster := uint64(Invalid)
	if v.summary != nil {
		succCluster = v.summary.successor(c)
	}
	if succCluster == Invalid {
		return Invalid
	}
	return succCluster*v.clusterSize + v.clusters[succCluster].min
}

// predecessor returns the largest member strictly less than x, or
// Invalid. x must be <= v.universe.
func (v *vebNode) predecessor(x uint64) uint64 {
	if v.base != nil {
		return v.leafPredecessor(x)
	}
	if !v.isEmpty() && x > v.max {
		return v.max
	}
	if x == 0 {
		return Invalid
	}
	c := x / v.clusterSize
	i := x % v.clusterSize
	if cl := v.clusters[c]; cl != nil && !cl.isEmpty() && i > cl.min {
		return c*v.clusterSize + cl.predecessor(i)
	}
	predCluster := uint64(Invalid)
	if v.summary != nil {
		predCluster = v.summary.predecessor(c)
	}
	if predCluster == Invalid {
		if !v.isEmpty() && x > v.min {
			return v.min
		}
		return Invalid
	}
	return predCluster*v.clusterSize + v.clusters[predCluster].max
}

// leafMin scans the base bitset for its lowest set bit, bounded by the
// leaf's universe (<= 64 bits).
func (v *vebNode) leafMin() uint64 {
	idx, ok := v.base.NextSet(0)
	if !ok {
		return Invalid
	}
	return uint64(idx)
}

// leafMax scans the base bitset for its highest set bit via a bounded
// reverse walk (the leaf universe is <= 64, so this is O(1) bit words).
func (v *vebNode) leafMax() uint64 {
	for i := v.universe; i > 0; i-- {
		if v.base.Test(uint(i - 1)) {
			return i - 1
		}
	}
	return Invalid
}

func (v *vebNode) leafSuccessor(x uint64) uint64 {
	if x+1 >= v.universe {
		return Invalid
	}
	idx, ok := v.base.NextSet(uint(x + 1))
	if !ok {
		return Invalid
	}
	return uint64(idx)
}

func (v *vebNode) leafPredecessor(x uint64) uint64 {
	bound := x
	if bound > v.universe {
		bound = v.universe
	}
	for i := bound; i > 0; i-- {
		if v.base.Test(uint(i - 1)) {
			return i - 1
		}
	}
	return Invalid
}

// Set is a sorted set of non-negative integers, backed by a van Emde Boas
// tree rooted at root. cap is the publicly observable capacity (arbitrary,
// possibly 0); root.universe is always the next power of two at or above
// max(cap, 1), decoupled from cap so growth never disturbs the tree shape
// unnecessarily.
type Set struct {
	root        *vebNode
	cap         uint64
	flags       Flag
	count       uint64 // maintained eagerly unless FlagLazyCount
	allocCursor uint64
}

// New allocates a Set with the given initial capacity and flags.
func New(capacity uint64, flags Flag) (*Set, error) {
	if flags&^allFlags != 0 {
		return nil, fluxerrors.Invalidf("idset: unknown flag bits %#x", flags&^allFlags)
	}

	s := &Set{
		root:  newVebNode(nextPow2(maxU64(capacity, 1))),
		cap:   capacity,
		flags: flags,
	}

	if flags&FlagInitFull != 0 {
		for i := uint64(0); i < capacity; i++ {
			s.root.insert(i)
		}
		s.count = capacity
	}

	return s, nil
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// nextPow2 returns the smallest power of two >= n (and >= 1).
func nextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(n-1)
}

// grow rebuilds the tree at a larger universe and reinserts every existing
// member. This is an amortized O(n log m) cost paid occasionally, not on
// every insert, the same way a growable slice amortizes its doublings.
func (s *Set) grow(id uint64) {
	if id < s.cap {
		return
	}
	newCap := nextPow2(id + 1)
	newRoot := newVebNode(newCap)
	old := s.root
	if !old.isEmpty() {
		for x, ok := old.min, true; ok; {
			newRoot.insert(x)
			nxt := old.successor(x)
			if nxt == Invalid {
				ok = false
			} else {
				x = nxt
			}
		}
	}
	s.root = newRoot
	s.cap = newCap
}

// Set adds id to the set.
func (s *Set) Set(id uint64) error {
	if id == Invalid {
		return fluxerrors.Invalidf("idset: cannot set reserved id %d", id)
	}
	if id >= s.cap {
		if s.flags&FlagAutogrow == 0 {
			return fluxerrors.Invalidf("idset: id %d exceeds capacity %d", id, s.cap)
		}
		s.grow(id)
	}
	if !s.root.member(id) {
		s.root.insert(id)
		s.count++
	}
	return nil
}

// RangeSet adds every id in the closed range [lo, hi]. A reversed range
// (hi < lo) is normalized before insertion.
func (s *Set) RangeSet(lo, hi uint64) error {
	if hi < lo {
		lo, hi = hi, lo
	}
	for id := lo; id <= hi; id++ {
		if err := s.Set(id); err != nil {
			return err
		}
		if id == ^uint64(0) {
			break // avoid overflow wraparound on a MAX_UINT upper bound
		}
	}
	return nil
}

// Clear removes id. Out-of-range ids are a no-op, not an error — unless
// the set was created FlagInitFull, in which case every id up to the
// original capacity is a legitimate member to clear.
func (s *Set) Clear(id uint64) {
	if id >= s.cap {
		return
	}
	if s.root.member(id) {
		s.root.deleteVal(id)
		s.count--
	}
}

// RangeClear removes every id in the closed range [lo, hi].
func (s *Set) RangeClear(lo, hi uint64) {
	if hi < lo {
		lo, hi = hi, lo
	}
	for id := lo; id <= hi && id < s.cap; id++ {
		s.Clear(id)
	}
}

// Test reports whether id is a member. Out-of-range ids are never members.
// Descends the vEB tree, so this is O(log m) rather than a flat O(universe)
// bitmap scan.
func (s *Set) Test(id uint64) bool {
	if id == Invalid || id >= s.cap {
		return false
	}
	return s.root.member(id)
}

// First returns the smallest member, or (0, false) if the set is empty.
func (s *Set) First() (uint64, bool) {
	if s.root.isEmpty() {
		return 0, false
	}
	return s.root.min, true
}

// Last returns the largest member, or (0, false) if the set is empty.
func (s *Set) Last() (uint64, bool) {
	if s.root.isEmpty() {
		return 0, false
	}
	return s.root.max, true
}

// Next returns the smallest member strictly greater than id, or Invalid.
// O(log m) via the vEB successor walk.
func (s *Set) Next(id uint64) uint64 {
	if id == Invalid || id >= s.cap {
		return Invalid
	}
	return s.root.successor(id)
}

// Prev returns the largest member strictly less than id, or Invalid.
// O(log m) via the vEB predecessor walk.
func (s *Set) Prev(id uint64) uint64 {
	if id == 0 || id == Invalid {
		return Invalid
	}
	bound := id
	if bound > s.cap {
		bound = s.cap
	}
	if bound == 0 || s.root.isEmpty() {
		return Invalid
	}
	if bound >= s.root.universe {
		return s.root.max
	}
	return s.root.predecessor(bound)
}

// Count returns the number of members.
func (s *Set) Count() uint64 {
	if s.flags&FlagLazyCount != 0 {
		n := uint64(0)
		for id, ok := s.First(); ok; id, ok = s.nextOK(id) {
			n++
			_ = id
		}
		return n
	}
	return s.count
}

func (s *Set) nextOK(id uint64) (uint64, bool) {
	next := s.Next(id)
	if next == Invalid {
		return 0, false
	}
	return next, true
}

// Union returns a new Set containing members of either a or b.
func Union(a, b *Set) *Set {
	cap := maxU64(a.cap, b.cap)
	result, _ := New(cap, FlagAutogrow)
	for id, ok := a.First(); ok; id, ok = a.nextOK(id) {
		_ = result.Set(id)
	}
	for id, ok := b.First(); ok; id, ok = b.nextOK(id) {
		_ = result.Set(id)
	}
	result.flags = a.flags
	return result
}

// Intersection returns a new Set containing members of both a and b.
// The smaller operand (by eager count, when both are known) drives the
// scan, mirroring the reference codec's iteration-order optimization.
func Intersection(a, b *Set) *Set {
	small, big := a, b
	if a.flags&FlagLazyCount == 0 && b.flags&FlagLazyCount == 0 && b.count < a.count {
		small, big = b, a
	}
	result, _ := New(maxU64(a.cap, b.cap), FlagAutogrow)
	for id, ok := small.First(); ok; id, ok = small.nextOK(id) {
		if big.Test(id) {
			_ = result.Set(id)
		}
	}
	result.flags = a.flags
	return result
}

// Difference returns a new Set containing members of a that are not in b.
func Difference(a, b *Set) *Set {
	result, _ := New(a.cap, FlagAutogrow)
	for id, ok := a.First(); ok; id, ok = a.nextOK(id) {
		if !b.Test(id) {
			_ = result.Set(id)
		}
	}
	result.flags = a.flags
	return result
}

// Alloc pops and returns the smallest unset id, auto-growing capacity if
// the set is exhausted. With FlagAllocRoundRobin, the search resumes from
// the cursor left by the previous Alloc instead of restarting at 0.
func (s *Set) Alloc() (uint64, error) {
	start := uint64(0)
	if s.flags&FlagAllocRoundRobin != 0 {
		start = s.allocCursor
	}

	if s.cap > 0 {
		for i := uint64(0); i < s.cap; i++ {
			id := (start + i) % s.cap
			if !s.root.member(id) {
				s.root.insert(id)
				s.count++
				s.allocCursor = id + 1
				return id, nil
			}
		}
	}

	// Exhausted: grow by one and take the new slot, unconditionally (Alloc
	// always has room to grow regardless of FlagAutogrow, which governs
	// Set/RangeSet instead).
	id := s.cap
	s.grow(id)
	s.root.insert(id)
	s.count++
	s.allocCursor = id + 1
	return id, nil
}

// Free returns id to the pool unconditionally.
func (s *Set) Free(id uint64) {
	s.Clear(id)
}

// FreeCheck returns id to the pool, failing with Exists if it was not
// allocated (a double-free).
func (s *Set) FreeCheck(id uint64) error {
	if id >= s.cap || !s.root.member(id) {
		return fluxerrors.Existsf("idset: id %d already free", id)
	}
	s.Clear(id)
	return nil
}

// EncodeOptions controls textual rendering. The two axes are orthogonal:
// Ranged picks simple-vs-ranged collapsing, Brackets wraps non-singleton
// output in "[...]" independent of that choice, mirroring the original
// codec's independent IDSET_FLAG_BRACKETS bit.
type EncodeOptions struct {
	// Ranged collapses maximal consecutive runs to "lo-hi" when true; when
	// false every member is listed individually ("simple" form).
	Ranged bool
	// Brackets wraps the result in "[...]" when it has more than one element.
	Brackets bool
}

// String renders the canonical "ranged" textual encoding: maximal runs
// collapse to "lo-hi", singletons stand alone, entries are comma-separated
// in ascending order.
func (s *Set) String() string {
	return s.Encode(true)
}

// Encode renders the set as text. When ranged is true, maximal consecutive
// runs collapse to "lo-hi"; when false, every member is listed individually.
func (s *Set) Encode(ranged bool) string {
	return s.EncodeWith(EncodeOptions{Ranged: ranged})
}

// EncodeWith renders the set as text per opts.
func (s *Set) EncodeWith(opts EncodeOptions) string {
	first, ok := s.First()
	if !ok {
		return ""
	}

	var b strings.Builder
	id := first
	firstElem := true
	n := uint64(0)
	for id != Invalid {
		if !firstElem {
			b.WriteByte(',')
		}
		firstElem = false
		n++

		if !opts.Ranged {
			b.WriteString(strconv.FormatUint(id, 10))
			id = s.Next(id)
			continue
		}

		runStart := id
		runEnd := id
		for {
			next := s.Next(runEnd)
			if next == runEnd+1 {
				runEnd = next
				continue
			}
			break
		}

		if runEnd == runStart {
			b.WriteString(strconv.FormatUint(runStart, 10))
		} else {
			n++ // a range still counts as more than one element for bracketing
			b.WriteString(strconv.FormatUint(runStart, 10))
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(runEnd, 10))
		}

		id = s.Next(runEnd)
	}

	out := b.String()
	if opts.Brackets && n > 1 {
		return "[" + out + "]"
	}
	return out
}

// Decode parses the canonical textual form ("0-3,7,9-12"). Outer brackets
// are optional. Elements may appear in any order; ranges a-b require a ≤ b.
// An empty string decodes to an empty set. Leading zeros on multi-digit
// numbers and stray non-decimal characters are rejected.
func Decode(text string) (*Set, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "[")
	text = strings.TrimSuffix(text, "]")

	if text == "" {
		return New(0, FlagAutogrow)
	}

	set, err := New(0, FlagAutogrow)
	if err != nil {
		return nil, err
	}

	for _, token := range strings.Split(text, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fluxerrors.Invalidf("idset: empty element in %q", text)
		}

		if lo, hi, ok := strings.Cut(token, "-"); ok {
			loVal, err := parseDecimal(lo)
			if err != nil {
				return nil, err
			}
			hiVal, err := parseDecimal(hi)
			if err != nil {
				return nil, err
			}
			if hiVal < loVal {
				return nil, fluxerrors.Invalidf("idset: reversed range %q", token)
			}
			if err := set.RangeSet(loVal, hiVal); err != nil {
				return nil, err
			}
			continue
		}

		val, err := parseDecimal(token)
		if err != nil {
			return nil, err
		}
		if set.Test(val) {
			return nil, fluxerrors.Invalidf("idset: duplicate element %d", val)
		}
		if err := set.Set(val); err != nil {
			return nil, err
		}
	}

	return set, nil
}

func parseDecimal(s string) (uint64, error) {
	if s == "" {
		return 0, fluxerrors.Invalidf("idset: empty numeric token")
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, fluxerrors.Invalidf("idset: leading zero in %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fluxerrors.Invalidf("idset: non-decimal character in %q", s)
		}
	}
	val, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fluxerrors.Invalidf("idset: %v", err)
	}
	return val, nil
}
