// Package bridge multiplexes synchronous tool invocations over a long-poll
// channel to a remote executor.
//
// # Flow
//
//	Submit ──enqueue──► queue ──Notify──► Poll (blocked) ──► executor
//	   ▲                                                        │
//	   └──────────── completion slot ◄──── Resolve ◄────────────┘
//
// Submit registers a pending entry and a single-assignment completion slot,
// appends the invocation to a FIFO queue and bumps the Notifier version.
// Poll claims the head of the queue or blocks on the Notifier until work
// arrives or its timeout expires. Resolve fills the slot for an id at most
// once; unknown, stale and duplicate ids are acknowledged and ignored.
//
// # Wakeups
//
// Poll captures the Notifier version before each look at the queue and
// subscribes against that baseline right before blocking. An enqueue that
// lands between the look and the wait has already advanced the version, so
// the subscription comes back closed and the loop re-checks immediately.
// Because the baseline is re-read on every iteration, a wake consumed by a
// competing poller never leaves a stale "changed" signal behind.
//
// # Ownership
//
// A Bridge owns its queue, pending table and Notifier. The queue and table
// share one mutex that is never held across a blocking wait, an observer
// callback or network I/O.
package bridge
