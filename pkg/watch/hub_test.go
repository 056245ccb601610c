// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/fluxrm/flux-core/pkg/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PerJobSubscription(t *testing.T) {
	hub := watch.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := hub.Subscribe(ctx, 100)

	hub.Publish(watch.StateChangeEvent{
		JobID:         100,
		PreviousState: "sched",
		NewState:      "run",
		EventTime:     time.Now(),
	})

	// A subscriber for a different job should not see this event.
	other := hub.Subscribe(ctx, 200)

	select {
	case ev := <-events:
		assert.Equal(t, uint64(100), ev.JobID)
		assert.Equal(t, "run", ev.NewState)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for per-job event")
	}

	select {
	case <-other:
		t.Fatal("job 200 subscriber should not receive job 100 events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_GlobalSubscription(t *testing.T) {
	hub := watch.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := hub.Subscribe(ctx, 0)

	hub.Publish(watch.StateChangeEvent{JobID: 1, NewState: "queued"})
	hub.Publish(watch.StateChangeEvent{JobID: 2, NewState: "queued"})

	seen := map[uint64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			seen[ev.JobID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for global event")
		}
	}

	assert.True(t, seen[1])
	assert.True(t, seen[2])
}

func TestHub_UnsubscribeOnContextDone(t *testing.T) {
	hub := watch.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	events := hub.Subscribe(ctx, 100)

	require.Equal(t, 1, hub.SubscriberCount(100))

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount(100) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_WithBufferSize(t *testing.T) {
	hub := watch.NewHub().WithBufferSize(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := hub.Subscribe(ctx, 100)

	// Publish more than the buffer can hold; excess should be dropped, not block.
	for i := 0; i < 5; i++ {
		hub.Publish(watch.StateChangeEvent{JobID: 100, NewState: "run"})
	}

	count := 0
drain:
	for {
		select {
		case <-events:
			count++
		default:
			break drain
		}
	}

	assert.LessOrEqual(t, count, 2)
}

func TestHub_PublishNoSubscribers(t *testing.T) {
	hub := watch.NewHub()
	assert.NotPanics(t, func() {
		hub.Publish(watch.StateChangeEvent{JobID: 100, NewState: "run"})
	})
}
