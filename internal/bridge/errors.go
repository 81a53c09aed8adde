package bridge

import "errors"

var (
	// ErrNoWork is returned by Poll when its wait expires with an empty queue.
	ErrNoWork = errors.New("no work available")

	// ErrClosed is returned once the bridge has been shut down.
	ErrClosed = errors.New("bridge closed")

	// ErrInvocationTimeout is returned by Submit when the bridge-enforced
	// invocation deadline passes before the executor answers.
	ErrInvocationTimeout = errors.New("invocation timed out waiting for executor")
)

// Outcome classifies what Resolve did with a completion.
type Outcome int

const (
	// OutcomeDelivered means the result reached a waiting caller.
	OutcomeDelivered Outcome = iota
	// OutcomeDuplicate means the id was already resolved.
	OutcomeDuplicate
	// OutcomeStale means the caller gave up (cancelled, timed out, shutdown).
	OutcomeStale
	// OutcomeUnknown means the id was never seen or aged out of memory.
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// AbandonReason says why a pending invocation was dropped without a result.
type AbandonReason string

const (
	AbandonCancelled AbandonReason = "cancelled"
	AbandonTimedOut  AbandonReason = "timed_out"
	AbandonShutdown  AbandonReason = "shutdown"
)
