// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKaryTopologyParentChildren(t *testing.T) {
	topo, err := NewKary(2, 7)
	require.NoError(t, err)

	_, hasParent := topo.Parent(0)
	assert.False(t, hasParent, "rank 0 has no parent")

	p, ok := topo.Parent(1)
	require.True(t, ok)
	assert.Equal(t, 0, p)

	p, ok = topo.Parent(6)
	require.True(t, ok)
	assert.Equal(t, 2, p)

	assert.Equal(t, []int{1, 2}, topo.Children(0))
	assert.Equal(t, []int{3, 4}, topo.Children(1))
	assert.Equal(t, []int{5, 6}, topo.Children(2))
	assert.Empty(t, topo.Children(3))
}

func TestKaryCriticalRanksAreInteriorNodes(t *testing.T) {
	topo, err := NewKary(2, 7)
	require.NoError(t, err)

	crit, err := topo.CriticalRanks(7)
	require.NoError(t, err)

	for _, r := range []uint64{0, 1, 2} {
		assert.True(t, crit.Test(r), "rank %d has children, should be critical", r)
	}
	for _, r := range []uint64{3, 4, 5, 6} {
		assert.False(t, crit.Test(r), "leaf rank %d should not be critical", r)
	}
}

func TestParseTopologyKary(t *testing.T) {
	topo, err := ParseTopology("kary:3", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, topo.Children(0))
}

func TestParseTopologyUnknownFamily(t *testing.T) {
	_, err := ParseTopology("bogus:1", 4)
	assert.Error(t, err)
}
