// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package grudgeset

import (
	"testing"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddContainsRemove(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("dep-a"))
	assert.True(t, s.Contains("dep-a"))
	assert.Equal(t, 1, s.LiveCount())
	assert.Equal(t, 1, s.EverUsedCount())

	s.Remove("dep-a")
	assert.False(t, s.Contains("dep-a"))
	assert.Equal(t, 0, s.LiveCount())
	assert.Equal(t, 1, s.EverUsedCount())
}

func TestRemoveNonMemberIsNoop(t *testing.T) {
	s := New()
	assert.NotPanics(t, func() { s.Remove("never-added") })
	assert.Equal(t, 0, s.LiveCount())
}

func TestAddAfterRemoveIsRejected(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("dep-a"))
	s.Remove("dep-a")

	err := s.Add("dep-a")
	require.Error(t, err)
	assert.Equal(t, fluxerrors.Exists, fluxerrors.GetCode(err))
}

func TestDoubleAddWithoutRemoveIsRejected(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("dep-a"))
	err := s.Add("dep-a")
	require.Error(t, err)
	assert.Equal(t, fluxerrors.Exists, fluxerrors.GetCode(err))
}

func TestLiveMembers(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("a"))
	require.NoError(t, s.Add("b"))
	s.Remove("a")
	assert.ElementsMatch(t, []string{"b"}, s.LiveMembers())
}
