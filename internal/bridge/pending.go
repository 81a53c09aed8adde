package bridge

import (
	"sync"
	"time"
)

type completion struct {
	result Result
	err    error
}

// completionSlot is a single-assignment cell with one writer and one reader.
type completionSlot struct {
	once sync.Once
	ch   chan completion
}

func newCompletionSlot() *completionSlot {
	return &completionSlot{ch: make(chan completion, 1)}
}

// fill writes c into the slot. Only the first call has an effect; it reports
// whether this call was the one that wrote.
func (s *completionSlot) fill(c completion) bool {
	wrote := false
	s.once.Do(func() {
		s.ch <- c
		wrote = true
	})
	return wrote
}

func (s *completionSlot) done() <-chan completion {
	return s.ch
}

type pendingEntry struct {
	inv       *Invocation
	slot      *completionSlot
	claimedAt time.Time
}

func (e *pendingEntry) claimed() bool {
	return !e.claimedAt.IsZero()
}

// pendingTable maps invocation id to its waiting caller. Callers hold the
// bridge mutex.
type pendingTable struct {
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

func (t *pendingTable) add(e *pendingEntry) {
	t.entries[e.inv.ID] = e
}

func (t *pendingTable) get(id string) (*pendingEntry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// take removes and returns the entry for id.
func (t *pendingTable) take(id string) (*pendingEntry, bool) {
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

func (t *pendingTable) len() int {
	return len(t.entries)
}

func (t *pendingTable) inFlight() int {
	n := 0
	for _, e := range t.entries {
		if e.claimed() {
			n++
		}
	}
	return n
}

// drain empties the table and returns what it held.
func (t *pendingTable) drain() []*pendingEntry {
	out := make([]*pendingEntry, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, e)
		delete(t.entries, id)
	}
	return out
}
