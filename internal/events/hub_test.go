package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pollbridge/internal/bridge"
)

func TestHubRingBufferKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("tick", map[string]int{"n": i})
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.JSONEq(t, `{"n":4}`, string(since[0].Data))
}

func TestHubSubscribeReceivesAndCancelCloses(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish("x", nil)
	select {
	case ev := <-ch:
		assert.Equal(t, "x", ev.Type)
		assert.JSONEq(t, `{}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish("flood", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Positive(t, h.Dropped())
}

func TestRecorderPublishesLifecycle(t *testing.T) {
	h := NewHub(16)
	rec := NewRecorder(h)
	inv := bridge.Invocation{ID: "inv-1", Payload: json.RawMessage(`{"RunCode":{"command":"x"}}`)}

	rec.InvocationEnqueued(inv)
	rec.InvocationClaimed(inv, 250*time.Millisecond)
	rec.InvocationResolved(inv, bridge.Result{IsError: true}, time.Second)
	rec.InvocationAbandoned(inv, bridge.AbandonTimedOut, 2*time.Second)
	rec.CompletionIgnored("inv-1", bridge.OutcomeStale)

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 5)

	var types []string
	for _, ev := range snap {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{TypeEnqueued, TypeClaimed, TypeResolved, TypeTimedOut, TypeIgnored}, types)

	var claimed InvocationEvent
	require.NoError(t, json.Unmarshal(snap[1].Data, &claimed))
	assert.Equal(t, "RunCode", claimed.Tool)
	assert.Equal(t, int64(250), claimed.WaitedMS)
	assert.NotContains(t, string(snap[1].Data), `"command"`)

	var resolved InvocationEvent
	require.NoError(t, json.Unmarshal(snap[2].Data, &resolved))
	assert.True(t, resolved.IsError)

	var ignored IgnoredEvent
	require.NoError(t, json.Unmarshal(snap[4].Data, &ignored))
	assert.Equal(t, "stale", ignored.Outcome)
}
