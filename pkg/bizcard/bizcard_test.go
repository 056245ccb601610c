// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bizcard

import (
	"context"
	"sync"
	"testing"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, fluxerrors.NotFoundf("no such key %q", key)
	}
	return v, nil
}

func TestCardConstructionRequiresHost(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	c, err := New("node01")
	require.NoError(t, err)
	assert.Equal(t, "node01", c.Host)
	assert.Empty(t, c.Pubkey)
	assert.Empty(t, c.URI)
}

func TestAddURIRequiresScheme(t *testing.T) {
	c, err := New("node01")
	require.NoError(t, err)

	assert.Error(t, c.AddURI("node01:1234"))
	require.NoError(t, c.AddURI("tcp://node01:1234"))
	require.NoError(t, c.AddURI("ipc:///tmp/flux/tbon-3"))
	assert.Equal(t, []string{"tcp://node01:1234", "ipc:///tmp/flux/tbon-3"}, c.URI)
}

func TestMarshalDecodeRoundTrip(t *testing.T) {
	c, err := New("node01")
	require.NoError(t, err)
	c.SetPubkey("pk-abc")
	require.NoError(t, c.AddURI("tcp://10.0.0.1:9000"))

	data, err := c.Marshal()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "node01", decoded.Host)
	assert.Equal(t, "pk-abc", decoded.Pubkey)
	assert.Equal(t, []string{"tcp://10.0.0.1:9000"}, decoded.URI)
	assert.Equal(t, 1, decoded.Refs())
}

func TestDecodeRejectsMissingHost(t *testing.T) {
	_, err := Decode([]byte(`{"uri":["tcp://x:1"]}`))
	assert.Error(t, err)
}

func TestCachePutThenGetFromSlot(t *testing.T) {
	kv := newMemKV()
	cache := NewCache(kv)
	c, err := New("node01")
	require.NoError(t, err)

	require.NoError(t, cache.Put(context.Background(), 3, c))

	got, err := cache.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestCacheGetFetchesFromKVSWhenSlotEmpty(t *testing.T) {
	kv := newMemKV()
	publisher := NewCache(kv)
	c, err := New("node02")
	require.NoError(t, err)
	require.NoError(t, publisher.Put(context.Background(), 5, c))

	reader := NewCache(kv)
	got, err := reader.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "node02", got.Host)
}

func TestCacheGetUnknownRankFails(t *testing.T) {
	cache := NewCache(newMemKV())
	_, err := cache.Get(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, fluxerrors.NotFound, fluxerrors.GetCode(err))
}

func TestCachePutReplacesSlotAndReleasesPrior(t *testing.T) {
	kv := newMemKV()
	cache := NewCache(kv)
	first, err := New("a")
	require.NoError(t, err)
	second, err := New("b")
	require.NoError(t, err)

	require.NoError(t, cache.Put(context.Background(), 1, first))
	require.NoError(t, cache.Put(context.Background(), 1, second))

	assert.Equal(t, 0, first.Refs())

	got, err := cache.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestTeardownReleasesAllSlots(t *testing.T) {
	kv := newMemKV()
	cache := NewCache(kv)
	c, err := New("a")
	require.NoError(t, err)
	require.NoError(t, cache.Put(context.Background(), 0, c))

	cache.Teardown()
	assert.Equal(t, 0, c.Refs())

	// The slot is empty after teardown, but the KVS entry the Put already
	// published persists, so a fresh lookup still succeeds.
	got, err := cache.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Host)
}
