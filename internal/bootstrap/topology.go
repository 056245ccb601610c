// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"strconv"
	"strings"

	"github.com/fluxrm/flux-core/pkg/idset"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// Topology computes the tree shape of the overlay: given the instance
// size, it answers parent/child queries and which ranks are "critical"
// (their loss forces instance shutdown). Alternate topologies supply their
// own CriticalRanks rule instead of a hand-maintained list, matching the
// original's topology plugin vtable shape (SPEC_FULL.md §5).
type Topology interface {
	// Parent returns rank's parent, or ok=false for the root.
	Parent(rank int) (parent int, ok bool)
	// Children returns rank's children in ascending order.
	Children(rank int) []int
	// CriticalRanks returns the idset of ranks whose loss requires instance
	// shutdown, for an instance of the given size.
	CriticalRanks(size int) (*idset.Set, error)
}

// karyTopology is a k-ary tree: rank r's parent is (r-1)/k, and its
// children are k*r+1 .. k*r+k, clipped to the instance size.
type karyTopology struct {
	k    int
	size int
}

// NewKary constructs a k-ary topology for the given instance size.
func NewKary(k, size int) (Topology, error) {
	if k <= 0 {
		return nil, fluxerrors.Invalidf("bootstrap: kary fanout must be positive, got %d", k)
	}
	return &karyTopology{k: k, size: size}, nil
}

func (t *karyTopology) Parent(rank int) (int, bool) {
	if rank <= 0 {
		return 0, false
	}
	return (rank - 1) / t.k, true
}

func (t *karyTopology) Children(rank int) []int {
	first := t.k*rank + 1
	var out []int
	for c := first; c < first+t.k && c < t.size; c++ {
		out = append(out, c)
	}
	return out
}

func (t *karyTopology) CriticalRanks(size int) (*idset.Set, error) {
	set, err := idset.New(uint64(size), idset.FlagAutogrow)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if err := set.Set(0); err != nil {
			return nil, err
		}
	}
	for r := 0; r < size; r++ {
		if len(t.Children(r)) > 0 {
			if err := set.Set(uint64(r)); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

// ParseTopology parses a "tbon.topo" attribute value (e.g. "kary:32") into
// a Topology for an instance of the given size. "kary:0" or a bare "kary"
// means a flat star (every non-root rank is a direct child of rank 0).
func ParseTopology(uri string, size int) (Topology, error) {
	family, param, _ := strings.Cut(uri, ":")
	switch family {
	case "kary":
		k := size
		if param != "" {
			v, err := strconv.Atoi(param)
			if err != nil {
				return nil, fluxerrors.Invalidf("bootstrap: malformed kary fanout %q", param)
			}
			if v > 0 {
				k = v
			}
		}
		if k <= 0 {
			k = 1
		}
		return NewKary(k, size)
	default:
		return nil, fluxerrors.Invalidf("bootstrap: unknown topology family %q", family)
	}
}
