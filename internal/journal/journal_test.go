package journal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pollbridge/internal/bridge"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func syncJournal(t *testing.T, j *Journal) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, j.Sync(ctx))
}

func TestJournalRecordsLifecycle(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	inv := bridge.Invocation{
		ID:         "inv-1",
		Payload:    json.RawMessage(`{"RunCode":{"command":"print(1)"}}`),
		EnqueuedAt: time.Now(),
	}
	j.InvocationEnqueued(inv)
	j.InvocationClaimed(inv, 0)
	j.InvocationRequeued(inv)
	j.InvocationClaimed(inv, 0)
	j.InvocationResolved(inv, bridge.Result{Response: json.RawMessage(`"1"`), IsError: true}, time.Second)
	// a later abandon must not overwrite the terminal state
	j.InvocationAbandoned(inv, bridge.AbandonCancelled, time.Second)
	syncJournal(t, j)

	e, err := j.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, e.Status)
	assert.Equal(t, "RunCode", e.Tool)
	assert.Equal(t, inv.Digest(), e.Digest)
	assert.Equal(t, len(inv.Payload), e.PayloadBytes)
	assert.Equal(t, 2, e.Attempts)
	assert.True(t, e.IsError)
	require.NotNil(t, e.ClaimedAt)
	require.NotNil(t, e.FinishedAt)
	require.NotNil(t, e.ResponseBytes)
	assert.Equal(t, 3, *e.ResponseBytes)
	assert.Empty(t, e.Reason)
	assert.WithinDuration(t, inv.EnqueuedAt, e.EnqueuedAt, time.Millisecond)

	_, err = j.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestJournalAbandonedAndIgnored(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i, reason := range []bridge.AbandonReason{bridge.AbandonCancelled, bridge.AbandonTimedOut, bridge.AbandonShutdown} {
		inv := bridge.Invocation{
			ID:         string(reason),
			Payload:    json.RawMessage(`{}`),
			EnqueuedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		j.InvocationEnqueued(inv)
		j.InvocationAbandoned(inv, reason, 0)
	}
	j.CompletionIgnored("cancelled", bridge.OutcomeStale)
	syncJournal(t, j)

	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "shutdown", recent[0].ID, "newest first")
	for _, e := range recent {
		assert.Equal(t, e.ID, e.Status)
		assert.Equal(t, e.ID, e.Reason)
	}

	counts, err := StatusCounts(ctx, j.db)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"cancelled": 1, "timed_out": 1, "shutdown": 1}, counts)

	ignored, err := Ignored(ctx, j.db, 10)
	require.NoError(t, err)
	require.Len(t, ignored, 1)
	assert.Equal(t, "stale", ignored[0].Outcome)
}

func TestJournalPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	old := bridge.Invocation{ID: "old", Payload: json.RawMessage(`{}`), EnqueuedAt: time.Now().Add(-48 * time.Hour)}
	live := bridge.Invocation{ID: "live", Payload: json.RawMessage(`{}`), EnqueuedAt: time.Now().Add(-48 * time.Hour)}

	j.now = func() time.Time { return time.Now().Add(-47 * time.Hour) }
	j.InvocationEnqueued(old)
	j.InvocationResolved(old, bridge.Result{Response: json.RawMessage(`1`)}, 0)
	j.InvocationEnqueued(live)
	syncJournal(t, j)

	n, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = j.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = j.Get(ctx, "live")
	assert.NoError(t, err, "unfinished entries are never pruned")
}

func TestJournalCloseIsIdempotentAndDropsLateWrites(t *testing.T) {
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.NotPanics(t, func() {
		j.InvocationEnqueued(bridge.Invocation{ID: "late", Payload: json.RawMessage(`{}`)})
	})
	assert.Error(t, j.Sync(context.Background()))
}

func TestJournalAsBridgeObserver(t *testing.T) {
	j := openTestJournal(t)
	b := bridge.New(bridge.WithObserver(j))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := b.Submit(ctx, json.RawMessage(`{"GetStudioMode":{}}`))
		done <- err
	}()

	inv, err := b.Poll(ctx, time.Second)
	require.NoError(t, err)
	b.Resolve(ctx, inv.ID, bridge.Result{Response: json.RawMessage(`"Edit"`)})
	require.NoError(t, <-done)
	syncJournal(t, j)

	e, err := j.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, e.Status)
	assert.Equal(t, "GetStudioMode", e.Tool)
}
