package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mattjoyce/pollbridge/internal/log"
	"github.com/mattjoyce/pollbridge/internal/observability"
)

const (
	DefaultPollTimeout     = 15 * time.Second
	DefaultExecutorIdleGap = 5 * time.Second
	DefaultRecentIDs       = 1024
)

type recentState uint8

const (
	recentResolved recentState = iota + 1
	recentAbandoned
)

// Bridge owns the invocation queue, the pending table and the Notifier.
type Bridge struct {
	mu          sync.Mutex
	queue       *invocationQueue
	pending     *pendingTable
	closed      bool
	activePolls int
	lastPollAt  time.Time

	// recent remembers ids that left the pending table so late completions
	// can be told apart. It locks internally.
	recent *lru.Cache[string, recentState]

	notifier *Notifier
	observer Observer
	logger   *slog.Logger

	pollTimeout       time.Duration
	invocationTimeout time.Duration
	idleGap           time.Duration
	recentSize        int

	now   func() time.Time
	newID func() string
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver installs lifecycle callbacks. Use Observers to combine several.
func WithObserver(o Observer) Option {
	return func(b *Bridge) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithPollTimeout sets the wait used when Poll is called without a timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.pollTimeout = d
		}
	}
}

// WithInvocationTimeout bounds how long Submit waits for the executor.
// Zero leaves the wait to the caller's context.
func WithInvocationTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d >= 0 {
			b.invocationTimeout = d
		}
	}
}

// WithExecutorIdleGap sets how long after its last poll the executor still
// counts as connected.
func WithExecutorIdleGap(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.idleGap = d
		}
	}
}

// WithRecentIDs sizes the memory of resolved and abandoned ids.
func WithRecentIDs(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.recentSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *Bridge) {
		if newID != nil {
			b.newID = newID
		}
	}
}

// New creates a Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		queue:       newInvocationQueue(),
		pending:     newPendingTable(),
		notifier:    NewNotifier(),
		observer:    NopObserver{},
		logger:      log.WithComponent("bridge"),
		pollTimeout: DefaultPollTimeout,
		idleGap:     DefaultExecutorIdleGap,
		recentSize:  DefaultRecentIDs,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	// lru.New only errors on non-positive size which the option guards.
	b.recent, _ = lru.New[string, recentState](b.recentSize)
	return b
}

// Submit hands payload to the executor and waits for its result.
//
// The pending entry is released on every return path. When ctx ends first the
// caller gets ctx.Err() and a late completion for the id is ignored. When the
// bridge deadline passes first the caller gets ErrInvocationTimeout.
func (b *Bridge) Submit(ctx context.Context, payload json.RawMessage) (Result, error) {
	inv := &Invocation{ID: b.newID(), Payload: payload, EnqueuedAt: b.now()}
	ctx, span := observability.StartSpan(ctx, "bridge.submit",
		observability.AttrInvocationID.String(inv.ID),
		observability.AttrTool.String(inv.Tool()),
		observability.AttrPayloadBytes.Int(len(payload)),
	)
	defer span.End()

	if b.isClosed() {
		observability.SetSpanError(span, ErrClosed)
		return Result{}, ErrClosed
	}

	entry := &pendingEntry{inv: inv, slot: newCompletionSlot()}

	// Reported before enqueue so the enqueued event precedes a fast claim.
	// A Close racing in between still pairs it with a shutdown abandon.
	b.observer.InvocationEnqueued(*inv)
	if err := b.enqueue(entry); err != nil {
		b.observer.InvocationAbandoned(*inv, AbandonShutdown, 0)
		observability.SetSpanError(span, err)
		return Result{}, err
	}
	defer b.release(entry)
	b.notifier.Notify()

	b.logger.Debug("invocation enqueued", "invocation_id", inv.ID, "tool", inv.Tool(), "payload_bytes", len(payload))

	var deadline <-chan time.Time
	if b.invocationTimeout > 0 {
		timer := time.NewTimer(b.invocationTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var c completion
	select {
	case c = <-entry.slot.done():
	case <-ctx.Done():
		c = b.abandon(entry, AbandonCancelled, ctx.Err())
	case <-deadline:
		c = b.abandon(entry, AbandonTimedOut, ErrInvocationTimeout)
	}

	if c.err != nil {
		observability.SetSpanError(span, c.err)
		return Result{}, c.err
	}
	observability.SetSpanOK(span)
	return c.result, nil
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) enqueue(e *pendingEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending.add(e)
	b.queue.push(e.inv)
	return nil
}

// release drops the entry and any queued copy if they are still present.
func (b *Bridge) release(e *pendingEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.pending.get(e.inv.ID); ok && cur == e {
		b.pending.take(e.inv.ID)
		b.queue.remove(e.inv.ID)
	}
}

// abandon gives up on e unless a resolver got to it first, in which case the
// resolver's completion wins.
func (b *Bridge) abandon(e *pendingEntry, reason AbandonReason, cause error) completion {
	b.mu.Lock()
	_, owned := b.pending.take(e.inv.ID)
	if owned {
		b.queue.remove(e.inv.ID)
		b.recent.Add(e.inv.ID, recentAbandoned)
	}
	b.mu.Unlock()

	if !owned {
		// Whoever took the entry fills the slot right after releasing the lock.
		return <-e.slot.done()
	}

	elapsed := b.now().Sub(e.inv.EnqueuedAt)
	b.logger.Info("invocation abandoned",
		"invocation_id", e.inv.ID,
		"reason", string(reason),
		"claimed", e.claimed(),
		"duration_ms", elapsed.Milliseconds(),
	)
	b.observer.InvocationAbandoned(*e.inv, reason, elapsed)
	e.slot.fill(completion{err: cause})
	return completion{err: cause}
}

// Poll claims the oldest queued invocation, waiting up to timeout for one to
// arrive. It returns ErrNoWork when the wait expires, ctx.Err() when ctx ends
// and ErrClosed after shutdown. A zero timeout uses the configured default.
func (b *Bridge) Poll(ctx context.Context, timeout time.Duration) (*Invocation, error) {
	if timeout <= 0 {
		timeout = b.pollTimeout
	}
	ctx, span := observability.StartSpan(ctx, "bridge.poll")
	defer span.End()

	if err := b.beginPoll(); err != nil {
		return nil, err
	}
	defer b.endPoll()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		// The baseline is read before the queue is inspected and re-read on
		// every pass; see the package documentation.
		since := b.notifier.Version()

		entry, err := b.claim(ctx)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			inv := *entry.inv
			waited := entry.claimedAt.Sub(inv.EnqueuedAt)
			span.SetAttributes(
				observability.AttrInvocationID.String(inv.ID),
				observability.AttrTool.String(inv.Tool()),
			)
			b.logger.Debug("invocation claimed", "invocation_id", inv.ID, "queued_ms", waited.Milliseconds())
			b.observer.InvocationClaimed(inv, waited)
			return &inv, nil
		}

		if err := b.notifier.Wait(waitCtx, since); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.observer.PollExpired()
			return nil, ErrNoWork
		}
	}
}

func (b *Bridge) beginPoll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.activePolls++
	b.lastPollAt = b.now()
	return nil
}

func (b *Bridge) endPoll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activePolls--
	b.lastPollAt = b.now()
}

// claim pops the queue head and marks it in flight. It returns (nil, nil)
// when the queue is empty.
func (b *Bridge) claim(ctx context.Context) (*pendingEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		inv, ok := b.queue.pop()
		if !ok {
			return nil, nil
		}
		entry, ok := b.pending.get(inv.ID)
		if !ok {
			continue
		}
		entry.claimedAt = b.now()
		return entry, nil
	}
}

// Requeue returns a claimed invocation to the head of the queue, for when it
// could not be handed to the executor. It reports false if the invocation is
// no longer pending or was never claimed.
func (b *Bridge) Requeue(id string) bool {
	b.mu.Lock()
	entry, ok := b.pending.get(id)
	if !ok || !entry.claimed() || b.closed {
		b.mu.Unlock()
		return false
	}
	entry.claimedAt = time.Time{}
	b.queue.pushFront(entry.inv)
	b.mu.Unlock()

	b.notifier.Notify()
	b.logger.Warn("invocation requeued", "invocation_id", id)
	b.observer.InvocationRequeued(*entry.inv)
	return true
}

// Resolve delivers res to the caller waiting on id. Completions for ids that
// are not pending are acknowledged and ignored.
func (b *Bridge) Resolve(ctx context.Context, id string, res Result) Outcome {
	_, span := observability.StartSpan(ctx, "bridge.resolve", observability.AttrInvocationID.String(id))
	defer span.End()

	b.mu.Lock()
	entry, ok := b.pending.take(id)
	if ok {
		b.queue.remove(id)
		b.recent.Add(id, recentResolved)
	}
	b.mu.Unlock()

	if !ok {
		outcome := b.classify(id)
		span.SetAttributes(observability.AttrOutcome.String(outcome.String()))
		b.logger.Debug("ignoring completion", "invocation_id", id, "outcome", outcome.String())
		b.observer.CompletionIgnored(id, outcome)
		return outcome
	}

	entry.slot.fill(completion{result: res})
	elapsed := b.now().Sub(entry.inv.EnqueuedAt)
	span.SetAttributes(observability.AttrOutcome.String(OutcomeDelivered.String()))
	b.logger.Debug("invocation resolved", "invocation_id", id, "is_error", res.IsError, "duration_ms", elapsed.Milliseconds())
	b.observer.InvocationResolved(*entry.inv, res, elapsed)
	return OutcomeDelivered
}

func (b *Bridge) classify(id string) Outcome {
	state, ok := b.recent.Get(id)
	switch {
	case !ok:
		return OutcomeUnknown
	case state == recentResolved:
		return OutcomeDuplicate
	default:
		return OutcomeStale
	}
}

// Close fails every waiting Submit with ErrClosed, drops the queue and wakes
// all pollers. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	entries := b.pending.drain()
	b.queue.clear()
	for _, e := range entries {
		b.recent.Add(e.inv.ID, recentAbandoned)
	}
	b.mu.Unlock()

	b.notifier.Notify()
	now := b.now()
	for _, e := range entries {
		e.slot.fill(completion{err: ErrClosed})
		b.observer.InvocationAbandoned(*e.inv, AbandonShutdown, now.Sub(e.inv.EnqueuedAt))
	}
	b.logger.Info("bridge closed", "abandoned", len(entries))
	return nil
}

// Stats is a point-in-time view of the bridge.
type Stats struct {
	QueueDepth        int       `json:"queue_depth"`
	Pending           int       `json:"pending"`
	InFlight          int       `json:"in_flight"`
	ActivePolls       int       `json:"active_polls"`
	LastPollAt        time.Time `json:"last_poll_at"`
	ExecutorConnected bool      `json:"executor_connected"`
	Version           uint64    `json:"version"`
	Closed            bool      `json:"closed"`
}

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		QueueDepth:  b.queue.len(),
		Pending:     b.pending.len(),
		InFlight:    b.pending.inFlight(),
		ActivePolls: b.activePolls,
		LastPollAt:  b.lastPollAt,
		Closed:      b.closed,
	}
	b.mu.Unlock()

	s.Version = b.notifier.Version()
	s.ExecutorConnected = s.ActivePolls > 0 ||
		(!s.LastPollAt.IsZero() && b.now().Sub(s.LastPollAt) <= b.idleGap)
	return s
}

// PollTimeout is the default Poll wait.
func (b *Bridge) PollTimeout() time.Duration {
	return b.pollTimeout
}
