package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionSlotFirstWriteWins(t *testing.T) {
	s := newCompletionSlot()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.fill(completion{err: errors.New("writer")}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	select {
	case c := <-s.done():
		assert.EqualError(t, c.err, "writer")
	default:
		t.Fatal("slot empty after fill")
	}
	select {
	case <-s.done():
		t.Fatal("slot delivered twice")
	default:
	}
}

func TestCompletionSlotFillNeverBlocks(t *testing.T) {
	s := newCompletionSlot()
	done := make(chan struct{})
	go func() {
		s.fill(completion{})
		s.fill(completion{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fill blocked without a reader")
	}
}

func TestInvocationQueueFIFO(t *testing.T) {
	q := newInvocationQueue()
	for _, id := range []string{"1", "2", "3"} {
		q.push(&Invocation{ID: id})
	}
	require.Equal(t, 3, q.len())

	var got []string
	for {
		inv, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, inv.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestInvocationQueueRemoveAndPushFront(t *testing.T) {
	q := newInvocationQueue()
	q.push(&Invocation{ID: "a"})
	q.push(&Invocation{ID: "b"})
	q.push(&Invocation{ID: "c"})

	assert.True(t, q.remove("b"))
	assert.False(t, q.remove("b"))
	q.pushFront(&Invocation{ID: "z"})

	inv, _ := q.pop()
	assert.Equal(t, "z", inv.ID)
	inv, _ = q.pop()
	assert.Equal(t, "a", inv.ID)
	inv, _ = q.pop()
	assert.Equal(t, "c", inv.ID)
	_, ok := q.pop()
	assert.False(t, ok)

	q.push(&Invocation{ID: "d"})
	q.clear()
	assert.Equal(t, 0, q.len())
	assert.False(t, q.remove("d"))
}

func TestPendingTable(t *testing.T) {
	tbl := newPendingTable()
	a := &pendingEntry{inv: &Invocation{ID: "a"}, slot: newCompletionSlot()}
	b := &pendingEntry{inv: &Invocation{ID: "b"}, slot: newCompletionSlot(), claimedAt: time.Now()}
	tbl.add(a)
	tbl.add(b)

	assert.Equal(t, 2, tbl.len())
	assert.Equal(t, 1, tbl.inFlight())

	got, ok := tbl.take("a")
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = tbl.take("a")
	assert.False(t, ok)

	drained := tbl.drain()
	assert.Len(t, drained, 1)
	assert.Equal(t, 0, tbl.len())
}
