// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package bizcard implements the business card (spec.md §3/§4.2): a
// signed record advertising one broker's hostname, optional public key,
// and bind URIs, plus the rank-indexed cache bootstrap uses to exchange
// them during wireup.
package bizcard

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// Card advertises one broker. Host is mandatory; Pubkey is optional; URIs
// may be empty for a leaf with no children to bind for.
type Card struct {
	Host   string   `json:"host"`
	Pubkey string   `json:"pubkey,omitempty"`
	URI    []string `json:"uri"`

	refs int
}

// New constructs a Card for host. Pubkey and URIs are appended afterward
// via SetPubkey/AddURI, mirroring the teacher's incremental builder style
// for request payloads.
func New(host string) (*Card, error) {
	if host == "" {
		return nil, fluxerrors.Invalidf("bizcard: host is mandatory")
	}
	return &Card{Host: host, refs: 1}, nil
}

// SetPubkey attaches the broker's public key.
func (c *Card) SetPubkey(pubkey string) {
	c.Pubkey = pubkey
}

// AddURI appends a bind URI. Every URI must contain "://".
func (c *Card) AddURI(uri string) error {
	if !strings.Contains(uri, "://") {
		return fluxerrors.Invalidf("bizcard: uri %q missing scheme separator", uri)
	}
	c.URI = append(c.URI, uri)
	return nil
}

// Retain increments the reference count and returns the same card, for
// callers that hand out a borrowed reference and need to track lifetime.
func (c *Card) Retain() *Card {
	c.refs++
	return c
}

// Release decrements the reference count. Cards are otherwise plain
// values; Release exists so Cache.Put can account for prior occupants the
// way the reference-counted decode path in the original does.
func (c *Card) Release() {
	if c.refs > 0 {
		c.refs--
	}
}

// Refs reports the current reference count, exposed for tests.
func (c *Card) Refs() int {
	return c.refs
}

// Marshal encodes the card to its wire JSON form.
func (c *Card) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a card from its wire JSON form. The result starts with a
// reference count of one, as if freshly constructed.
func Decode(data []byte) (*Card, error) {
	var c Card
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fluxerrors.Wrap(fluxerrors.Protocol, "bizcard: malformed card", err)
	}
	if c.Host == "" {
		return nil, fluxerrors.Invalidf("bizcard: decoded card missing host")
	}
	c.refs = 1
	return &c, nil
}

// KVStore is the external key-value-store collaborator the cache publishes
// cards through, per spec.md §6's contract-level collaborator rule. Put/Get
// key on the textual rank.
type KVStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Cache is the rank-indexed business-card table bootstrap owns for the
// duration of wireup (spec.md §4.2). It is single-threaded: every call must
// happen on the broker's reactor thread, so no internal locking is used —
// the mutex below exists only to satisfy callers (e.g. debugserver) reading
// a snapshot from a different goroutine in tests.
type Cache struct {
	mu    sync.Mutex
	kv    KVStore
	slots map[int]*Card
}

// NewCache creates a cache backed by kv, publishing/fetching cards under the
// textual rank as key.
func NewCache(kv KVStore) *Cache {
	return &Cache{kv: kv, slots: make(map[int]*Card)}
}

func cacheKey(rank int) string {
	return strconv.Itoa(rank)
}

// Put replaces the slot for rank with bc, releasing any prior occupant, and
// publishes the card to the external KVS under the textual rank key.
func (c *Cache) Put(ctx context.Context, rank int, bc *Card) error {
	c.mu.Lock()
	prior := c.slots[rank]
	c.slots[rank] = bc
	c.mu.Unlock()

	if prior != nil {
		prior.Release()
	}

	data, err := bc.Marshal()
	if err != nil {
		return fluxerrors.Wrap(fluxerrors.Invalid, "bizcard: marshal for put", err)
	}
	if err := c.kv.Put(ctx, cacheKey(rank), data); err != nil {
		return fluxerrors.Wrap(fluxerrors.IO, "bizcard: kvs put failed", err)
	}
	return nil
}

// Get returns the cached card for rank, fetching-and-caching from the KVS
// if the slot is empty. The returned card is borrowed; callers must not
// Release it.
func (c *Cache) Get(ctx context.Context, rank int) (*Card, error) {
	c.mu.Lock()
	bc, ok := c.slots[rank]
	c.mu.Unlock()
	if ok {
		return bc, nil
	}

	data, err := c.kv.Get(ctx, cacheKey(rank))
	if err != nil {
		return nil, fluxerrors.Wrap(fluxerrors.NotFound, "bizcard: rank not published", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.slots[rank]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.slots[rank] = decoded
	c.mu.Unlock()

	return decoded, nil
}

// Teardown empties every slot, releasing references. Called once bootstrap
// wireup finishes and the cache's job is done (spec.md §4.2: "torn down
// after finalize").
func (c *Cache) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for rank, bc := range c.slots {
		bc.Release()
		delete(c.slots, rank)
	}
}
