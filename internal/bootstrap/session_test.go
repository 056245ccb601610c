// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fluxrm/flux-core/internal/testsupport/pmiserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBootstrapCompleteness exercises spec.md §8 property 10: after a
// successful finalize, every non-root rank holds a valid parent URI and
// pubkey, and every rank with children holds a pubkey for each child.
// Every rank is pinned to the same node so Phase 2 binds ipc:// only,
// keeping the test hermetic (no real sockets or DNS).
func TestBootstrapCompleteness(t *testing.T) {
	const size = 7

	srv := pmiserver.NewServer(size)
	defer srv.Close()

	nodeOf := make(map[int]string, size)
	for r := 0; r < size; r++ {
		nodeOf[r] = "solo-node"
	}
	mapping := ""
	for r := 0; r < size; r++ {
		if r > 0 {
			mapping += ","
		}
		mapping += fmt.Sprintf("%d:solo-node", r)
	}

	var wg sync.WaitGroup
	wireups := make([]*Wireup, size)
	errs := make([]error, size)

	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()

			client := pmiserver.NewClient(srv.URL(), rank)
			sess, err := NewSession(Config{
				Rank:          rank,
				Size:          size,
				TBONTopo:      "kary:2",
				BrokerMapping: mapping,
				Rundir:        "/run/flux",
				SelfPubkey:    fmt.Sprintf("pk-%d", rank),
				Hostname:      fmt.Sprintf("host%d", rank),
			}, client, Options{})
			if err != nil {
				errs[rank] = err
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			w, err := sess.Run(ctx)
			wireups[rank] = w
			errs[rank] = err
		}(rank)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap did not complete for all ranks in time")
	}

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}

	topo, err := ParseTopology("kary:2", size)
	require.NoError(t, err)

	for rank := 0; rank < size; rank++ {
		w := wireups[rank]
		require.NotNil(t, w)

		parent, hasParent := topo.Parent(rank)
		if hasParent {
			assert.NotEmpty(t, w.ParentURI, "rank %d missing parent URI", rank)
			assert.Equal(t, fmt.Sprintf("pk-%d", parent), w.ParentPubkey, "rank %d missing parent pubkey", rank)
		} else {
			assert.False(t, w.HasParent)
		}

		for _, child := range topo.Children(rank) {
			assert.Equal(t, fmt.Sprintf("pk-%d", child), w.ChildPubkeys[child], "rank %d missing pubkey for child %d", rank, child)
		}
	}
}
