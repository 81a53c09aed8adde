package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entry is one row of invocation_log.
type Entry struct {
	ID            string     `json:"id"`
	Tool          string     `json:"tool,omitempty"`
	Digest        string     `json:"digest"`
	PayloadBytes  int        `json:"payload_bytes"`
	Status        string     `json:"status"`
	IsError       bool       `json:"is_error"`
	Attempts      int        `json:"attempts"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ResponseBytes *int       `json:"response_bytes,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Duration is the time from enqueue to finish, or zero while unfinished.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.EnqueuedAt)
}

// IgnoredCompletion is one row of ignored_completion.
type IgnoredCompletion struct {
	ID         string    `json:"id"`
	Outcome    string    `json:"outcome"`
	ReceivedAt time.Time `json:"received_at"`
}

const entryColumns = `id, tool, digest, payload_bytes, status, is_error, attempts,
  enqueued_at, claimed_at, finished_at, response_bytes, reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                         Entry
		enqueued                  string
		claimed, finished, reason sql.NullString
		respBytes                 sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.Tool, &e.Digest, &e.PayloadBytes, &e.Status, &e.IsError, &e.Attempts,
		&enqueued, &claimed, &finished, &respBytes, &reason); err != nil {
		return nil, err
	}

	var err error
	if e.EnqueuedAt, err = time.Parse(tsLayout, enqueued); err != nil {
		return nil, fmt.Errorf("parse enqueued_at for %s: %w", e.ID, err)
	}
	if e.ClaimedAt, err = parseNullTime(claimed); err != nil {
		return nil, fmt.Errorf("parse claimed_at for %s: %w", e.ID, err)
	}
	if e.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, fmt.Errorf("parse finished_at for %s: %w", e.ID, err)
	}
	if respBytes.Valid {
		n := int(respBytes.Int64)
		e.ResponseBytes = &n
	}
	e.Reason = reason.String
	return &e, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(tsLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get returns the entry for id or ErrNotFound.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	return Get(ctx, j.db, id)
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return Recent(ctx, j.db, limit)
}

func Get(ctx context.Context, db *sql.DB, id string) (*Entry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM invocation_log WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return e, nil
}

func Recent(ctx context.Context, db *sql.DB, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
SELECT `+entryColumns+` FROM invocation_log
ORDER BY enqueued_at DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of entries per status.
func StatusCounts(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM invocation_log GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Ignored returns up to limit ignored completions, newest first.
func Ignored(ctx context.Context, db *sql.DB, limit int) ([]IgnoredCompletion, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, outcome, received_at FROM ignored_completion
ORDER BY seq DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ignored: %w", err)
	}
	defer rows.Close()

	var out []IgnoredCompletion
	for rows.Next() {
		var ic IgnoredCompletion
		var at string
		if err := rows.Scan(&ic.ID, &ic.Outcome, &at); err != nil {
			return nil, err
		}
		if ic.ReceivedAt, err = time.Parse(tsLayout, at); err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

// Prune deletes finished entries and ignored completions older than cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
DELETE FROM invocation_log
WHERE finished_at IS NOT NULL AND finished_at < ?;`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune invocation_log: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := j.db.ExecContext(ctx, `DELETE FROM ignored_completion WHERE received_at < ?;`, ts(cutoff)); err != nil {
		return n, fmt.Errorf("prune ignored_completion: %w", err)
	}
	return n, nil
}

// RunRetention prunes entries older than retention every interval until ctx
// ends. A zero retention disables pruning.
func (j *Journal) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := j.Prune(ctx, j.now().Add(-retention))
		if err != nil {
			j.logger.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			j.logger.Info("journal pruned", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
