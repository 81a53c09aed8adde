package watch

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/pollbridge/internal/events"
)

const maxTracked = 200

// InvocationState tracks one invocation as seen through the event stream.
type InvocationState struct {
	ID        string
	Tool      string
	Status    string
	Attempts  int
	IsError   bool
	StartTime time.Time
	EndTime   time.Time
}

// Tracker folds invocation events into per-invocation state, newest first.
type Tracker struct {
	byID  map[string]*InvocationState
	order []string

	// Totals since the TUI started, keyed by final status.
	Totals map[string]int
	// Ignored completions keyed by outcome (duplicate, stale, unknown).
	Ignored map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{
		byID:    make(map[string]*InvocationState),
		Totals:  make(map[string]int),
		Ignored: make(map[string]int),
	}
}

// Apply updates state from one event. Events that are not about
// invocations are ignored.
func (t *Tracker) Apply(e events.Event) {
	if e.Type == events.TypeIgnored {
		var ig events.IgnoredEvent
		if json.Unmarshal(e.Data, &ig) == nil && ig.Outcome != "" {
			t.Ignored[ig.Outcome]++
		}
		return
	}

	var data events.InvocationEvent
	if err := json.Unmarshal(e.Data, &data); err != nil || data.ID == "" {
		return
	}

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	inv, ok := t.byID[data.ID]
	if !ok {
		// For invocations first seen mid-flight the start time is approximate.
		inv = &InvocationState{ID: data.ID, StartTime: at}
		t.track(inv)
	}
	if data.Tool != "" {
		inv.Tool = data.Tool
	}

	switch e.Type {
	case events.TypeEnqueued:
		inv.Status = "queued"
	case events.TypeClaimed:
		inv.Status = "running"
		inv.Attempts++
	case events.TypeRequeued:
		inv.Status = "queued"
	case events.TypeResolved:
		inv.IsError = data.IsError
		inv.Status = "resolved"
		if data.IsError {
			inv.Status = "error"
		}
		t.finish(inv, at)
	case events.TypeCancelled:
		inv.Status = "cancelled"
		t.finish(inv, at)
	case events.TypeTimedOut:
		inv.Status = "timed_out"
		t.finish(inv, at)
	case events.TypeShutdown:
		inv.Status = "shutdown"
		t.finish(inv, at)
	}
}

func (t *Tracker) track(inv *InvocationState) {
	t.byID[inv.ID] = inv
	t.order = append([]string{inv.ID}, t.order...)
	if len(t.order) > maxTracked {
		for _, id := range t.order[maxTracked:] {
			delete(t.byID, id)
		}
		t.order = t.order[:maxTracked]
	}
}

func (t *Tracker) finish(inv *InvocationState, at time.Time) {
	if inv.EndTime.IsZero() {
		inv.EndTime = at
		t.Totals[inv.Status]++
	}
}

// Get returns the tracked state for id.
func (t *Tracker) Get(id string) (*InvocationState, bool) {
	inv, ok := t.byID[id]
	return inv, ok
}

// Len is the number of tracked invocations.
func (t *Tracker) Len() int {
	return len(t.order)
}

// Active counts invocations still queued or running.
func (t *Tracker) Active() int {
	n := 0
	for _, inv := range t.byID {
		if inv.EndTime.IsZero() {
			n++
		}
	}
	return n
}

func invocationColumns() []table.Column {
	return []table.Column{
		{Title: "ST", Width: 2},
		{Title: "Tool", Width: 22},
		{Title: "Status", Width: 10},
		{Title: "ID", Width: 10},
		{Title: "Tries", Width: 5},
		{Title: "Duration", Width: 10},
	}
}

// Rows renders tracked invocations as table rows, newest first.
func (t *Tracker) Rows(theme Theme, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(t.order))
	for _, id := range t.order {
		inv := t.byID[id]

		duration := "-"
		if !inv.StartTime.IsZero() {
			end := inv.EndTime
			if end.IsZero() {
				end = now
			}
			duration = end.Sub(inv.StartTime).Round(time.Millisecond).String()
		}

		tool := inv.Tool
		if tool == "" {
			tool = "-"
		}

		rows = append(rows, table.Row{
			statusSymbol(inv.Status, theme),
			tool,
			inv.Status,
			shortID(inv.ID),
			itoa(inv.Attempts),
			duration,
		})
	}
	return rows
}

func statusSymbol(status string, theme Theme) string {
	switch status {
	case "queued":
		return theme.Queued.Render("○")
	case "running":
		return theme.Claimed.Render("◉")
	case "resolved":
		return theme.Resolved.Render("●")
	case "error":
		return theme.Failed.Render("∅")
	case "timed_out":
		return theme.TimedOut.Render("◑")
	case "cancelled", "shutdown":
		return theme.Abandoned.Render("◔")
	}
	return "○"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
