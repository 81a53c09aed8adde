package events

import (
	"time"

	"github.com/mattjoyce/pollbridge/internal/bridge"
)

// InvocationEvent is the data of every invocation.* event. Payloads are
// summarised by size and digest; code never leaves the process this way.
type InvocationEvent struct {
	ID           string `json:"id"`
	Tool         string `json:"tool,omitempty"`
	Digest       string `json:"digest,omitempty"`
	PayloadBytes int    `json:"payload_bytes,omitempty"`
	WaitedMS     int64  `json:"waited_ms,omitempty"`
	ElapsedMS    int64  `json:"elapsed_ms,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// IgnoredEvent is the data of completion.ignored.
type IgnoredEvent struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// Recorder publishes bridge lifecycle callbacks to a Hub.
type Recorder struct {
	bridge.NopObserver
	hub *Hub
}

func NewRecorder(hub *Hub) *Recorder {
	return &Recorder{hub: hub}
}

func summarize(inv bridge.Invocation) InvocationEvent {
	return InvocationEvent{
		ID:           inv.ID,
		Tool:         inv.Tool(),
		Digest:       inv.Digest(),
		PayloadBytes: len(inv.Payload),
	}
}

func (r *Recorder) InvocationEnqueued(inv bridge.Invocation) {
	r.hub.Publish(TypeEnqueued, summarize(inv))
}

func (r *Recorder) InvocationClaimed(inv bridge.Invocation, waited time.Duration) {
	ev := summarize(inv)
	ev.WaitedMS = waited.Milliseconds()
	r.hub.Publish(TypeClaimed, ev)
}

func (r *Recorder) InvocationRequeued(inv bridge.Invocation) {
	r.hub.Publish(TypeRequeued, summarize(inv))
}

func (r *Recorder) InvocationResolved(inv bridge.Invocation, res bridge.Result, elapsed time.Duration) {
	ev := summarize(inv)
	ev.ElapsedMS = elapsed.Milliseconds()
	ev.IsError = res.IsError
	r.hub.Publish(TypeResolved, ev)
}

func (r *Recorder) InvocationAbandoned(inv bridge.Invocation, reason bridge.AbandonReason, elapsed time.Duration) {
	ev := summarize(inv)
	ev.ElapsedMS = elapsed.Milliseconds()
	ev.Reason = string(reason)

	typ := TypeCancelled
	switch reason {
	case bridge.AbandonTimedOut:
		typ = TypeTimedOut
	case bridge.AbandonShutdown:
		typ = TypeShutdown
	}
	r.hub.Publish(typ, ev)
}

func (r *Recorder) CompletionIgnored(id string, outcome bridge.Outcome) {
	r.hub.Publish(TypeIgnored, IgnoredEvent{ID: id, Outcome: outcome.String()})
}
