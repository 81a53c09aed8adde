// Package journal records every invocation's lifecycle in SQLite so that
// `pollbridge inspect` can answer what happened after the fact. Payloads are
// stored as a size and a digest only.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/log"
	"github.com/mattjoyce/pollbridge/internal/storage"
)

// Status values stored in invocation_log.status.
const (
	StatusQueued   = "queued"
	StatusClaimed  = "claimed"
	StatusResolved = "resolved"
)

var ErrNotFound = errors.New("invocation not found")

const backlog = 1024

type op func(ctx context.Context, db *sql.DB) error

// Journal is a bridge.Observer. Writes are queued and applied by a single
// goroutine so the bridge never waits on disk.
type Journal struct {
	bridge.NopObserver

	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	ops    chan op
	done   chan struct{}
}

// Open opens the journal database at path and starts its writer.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already bootstrapped database.
func New(db *sql.DB) *Journal {
	j := &Journal{
		db:     db,
		logger: log.WithComponent("journal"),
		now:    time.Now,
		ops:    make(chan op, backlog),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) run() {
	defer close(j.done)
	for o := range j.ops {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o(ctx, j.db); err != nil {
			j.logger.Warn("journal write failed", "error", err)
		}
		cancel()
	}
}

func (j *Journal) submit(o op) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ops <- o:
	default:
		j.logger.Warn("journal backlog full, dropping record")
	}
}

// Sync blocks until every write queued before the call has been applied.
func (j *Journal) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return errors.New("journal closed")
	}
	select {
	case j.ops <- func(context.Context, *sql.DB) error { close(barrier); return nil }:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ops)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}

// tsLayout has fixed width so stored timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func (j *Journal) InvocationEnqueued(inv bridge.Invocation) {
	j.submit(func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
INSERT INTO invocation_log (id, tool, digest, payload_bytes, status, enqueued_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`,
			inv.ID, inv.Tool(), inv.Digest(), len(inv.Payload), StatusQueued, ts(inv.EnqueuedAt))
		if err != nil {
			return fmt.Errorf("insert %s: %w", inv.ID, err)
		}
		return nil
	})
}

func (j *Journal) InvocationClaimed(inv bridge.Invocation, _ time.Duration) {
	at := j.now()
	j.submit(func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
UPDATE invocation_log
SET status = ?, claimed_at = ?, attempts = attempts + 1
WHERE id = ? AND status = ?;`,
			StatusClaimed, ts(at), inv.ID, StatusQueued)
		if err != nil {
			return fmt.Errorf("claim %s: %w", inv.ID, err)
		}
		return nil
	})
}

func (j *Journal) InvocationRequeued(inv bridge.Invocation) {
	j.submit(func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
UPDATE invocation_log SET status = ?, claimed_at = NULL
WHERE id = ? AND status = ?;`,
			StatusQueued, inv.ID, StatusClaimed)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", inv.ID, err)
		}
		return nil
	})
}

func (j *Journal) InvocationResolved(inv bridge.Invocation, res bridge.Result, _ time.Duration) {
	at := j.now()
	j.submit(func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
UPDATE invocation_log
SET status = ?, is_error = ?, finished_at = ?, response_bytes = ?
WHERE id = ? AND status IN (?, ?);`,
			StatusResolved, res.IsError, ts(at), len(res.Response), inv.ID, StatusQueued, StatusClaimed)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", inv.ID, err)
		}
		return nil
	})
}

func (j *Journal) InvocationAbandoned(inv bridge.Invocation, reason bridge.AbandonReason, _ time.Duration) {
	at := j.now()
	j.submit(func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
UPDATE invocation_log
SET status = ?, finished_at = ?, reason = ?
WHERE id = ? AND status IN (?, ?);`,
			string(reason), ts(at), string(reason), inv.ID, StatusQueued, StatusClaimed)
		if err != nil {
			return fmt.Errorf("abandon %s: %w", inv.ID, err)
		}
		return nil
	})
}

func (j *Journal) CompletionIgnored(id string, outcome bridge.Outcome) {
	at := j.now()
	j.submit(func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
INSERT INTO ignored_completion (id, outcome, received_at) VALUES (?, ?, ?);`,
			id, outcome.String(), ts(at))
		if err != nil {
			return fmt.Errorf("record ignored %s: %w", id, err)
		}
		return nil
	})
}
