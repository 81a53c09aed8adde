package bridge

import "time"

// Observer receives lifecycle callbacks. Callbacks run on the goroutine that
// caused them, outside the bridge lock, and must not call back into the
// Bridge.
type Observer interface {
	InvocationEnqueued(inv Invocation)
	InvocationClaimed(inv Invocation, waited time.Duration)
	InvocationRequeued(inv Invocation)
	InvocationResolved(inv Invocation, res Result, elapsed time.Duration)
	InvocationAbandoned(inv Invocation, reason AbandonReason, elapsed time.Duration)
	CompletionIgnored(id string, outcome Outcome)
	PollExpired()
}

// NopObserver implements Observer with no-ops. Embed it to pick callbacks.
type NopObserver struct{}

func (NopObserver) InvocationEnqueued(Invocation)                                {}
func (NopObserver) InvocationClaimed(Invocation, time.Duration)                  {}
func (NopObserver) InvocationRequeued(Invocation)                                {}
func (NopObserver) InvocationResolved(Invocation, Result, time.Duration)         {}
func (NopObserver) InvocationAbandoned(Invocation, AbandonReason, time.Duration) {}
func (NopObserver) CompletionIgnored(string, Outcome)                            {}
func (NopObserver) PollExpired()                                                 {}

type observers []Observer

// Observers fans callbacks out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(observers, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m observers) InvocationEnqueued(inv Invocation) {
	for _, o := range m {
		o.InvocationEnqueued(inv)
	}
}

func (m observers) InvocationClaimed(inv Invocation, waited time.Duration) {
	for _, o := range m {
		o.InvocationClaimed(inv, waited)
	}
}

func (m observers) InvocationRequeued(inv Invocation) {
	for _, o := range m {
		o.InvocationRequeued(inv)
	}
}

func (m observers) InvocationResolved(inv Invocation, res Result, elapsed time.Duration) {
	for _, o := range m {
		o.InvocationResolved(inv, res, elapsed)
	}
}

func (m observers) InvocationAbandoned(inv Invocation, reason AbandonReason, elapsed time.Duration) {
	for _, o := range m {
		o.InvocationAbandoned(inv, reason, elapsed)
	}
}

func (m observers) CompletionIgnored(id string, outcome Outcome) {
	for _, o := range m {
		o.CompletionIgnored(id, outcome)
	}
}

func (m observers) PollExpired() {
	for _, o := range m {
		o.PollExpired()
	}
}
