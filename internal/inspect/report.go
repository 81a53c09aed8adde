// Package inspect renders the invocation journal for the terminal.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/pollbridge/internal/journal"
)

// Report is the structured JSON representation of one invocation.
type Report struct {
	journal.Entry
	QueueWaitMS *int64 `json:"queue_wait_ms,omitempty"`
	DurationMS  *int64 `json:"duration_ms,omitempty"`
}

// Summary is the structured JSON representation of the journal overview.
type Summary struct {
	Counts  map[string]int              `json:"counts"`
	Recent  []journal.Entry             `json:"recent"`
	Ignored []journal.IgnoredCompletion `json:"ignored"`
}

// BuildReport renders a terminal-friendly report for one invocation.
func BuildReport(ctx context.Context, db *sql.DB, id string) (string, error) {
	report, err := gatherReport(ctx, db, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Invocation Report\n")
	fmt.Fprintf(&out, "ID          : %s\n", report.ID)
	fmt.Fprintf(&out, "Tool        : %s\n", renderUnset(report.Tool, "<untagged>"))
	fmt.Fprintf(&out, "Status      : %s\n", renderStatus(report.Entry))
	fmt.Fprintf(&out, "Attempts    : %d\n", report.Attempts)
	fmt.Fprintf(&out, "Payload     : %d bytes (%s)\n", report.PayloadBytes, report.Digest)
	fmt.Fprintf(&out, "Enqueued    : %s\n", formatTime(&report.EnqueuedAt))
	fmt.Fprintf(&out, "Claimed     : %s\n", formatTime(report.ClaimedAt))
	fmt.Fprintf(&out, "Finished    : %s\n", formatTime(report.FinishedAt))
	if report.QueueWaitMS != nil {
		fmt.Fprintf(&out, "Queue wait  : %s\n", msDuration(*report.QueueWaitMS))
	}
	if report.DurationMS != nil {
		fmt.Fprintf(&out, "Duration    : %s\n", msDuration(*report.DurationMS))
	}
	if report.ResponseBytes != nil {
		fmt.Fprintf(&out, "Response    : %d bytes\n", *report.ResponseBytes)
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable report for one invocation.
func BuildJSONReport(ctx context.Context, db *sql.DB, id string) (string, error) {
	report, err := gatherReport(ctx, db, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReport(ctx context.Context, db *sql.DB, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("invocation id is required")
	}

	e, err := journal.Get(ctx, db, id)
	if errors.Is(err, journal.ErrNotFound) {
		return nil, fmt.Errorf("invocation %q not found", id)
	}
	if err != nil {
		return nil, err
	}

	report := &Report{Entry: *e}
	if e.ClaimedAt != nil {
		ms := e.ClaimedAt.Sub(e.EnqueuedAt).Milliseconds()
		report.QueueWaitMS = &ms
	}
	if e.FinishedAt != nil {
		ms := e.Duration().Milliseconds()
		report.DurationMS = &ms
	}
	return report, nil
}

// BuildSummary renders status counts, the most recent invocations and
// ignored completions.
func BuildSummary(ctx context.Context, db *sql.DB, limit int) (string, error) {
	s, err := gatherSummary(ctx, db, limit)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Invocations\n")
	if len(s.Counts) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	statuses := make([]string, 0, len(s.Counts))
	for status := range s.Counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(&out, "  %-10s %d\n", status, s.Counts[status])
	}

	if len(s.Recent) > 0 {
		fmt.Fprintf(&out, "\nRecent\n")
		fmt.Fprintf(&out, "  %-36s  %-20s  %-10s  %8s  %s\n", "ID", "TOOL", "STATUS", "DURATION", "ENQUEUED")
		for _, e := range s.Recent {
			dur := "-"
			if e.FinishedAt != nil {
				dur = msDuration(e.Duration().Milliseconds())
			}
			fmt.Fprintf(&out, "  %-36s  %-20s  %-10s  %8s  %s\n",
				e.ID, renderUnset(e.Tool, "-"), renderStatus(e), dur, formatTime(&e.EnqueuedAt))
		}
	}

	if len(s.Ignored) > 0 {
		fmt.Fprintf(&out, "\nIgnored completions\n")
		for _, ic := range s.Ignored {
			fmt.Fprintf(&out, "  %-36s  %-10s  %s\n", ic.ID, ic.Outcome, formatTime(&ic.ReceivedAt))
		}
	}

	return out.String(), nil
}

// BuildJSONSummary returns the machine-readable journal overview.
func BuildJSONSummary(ctx context.Context, db *sql.DB, limit int) (string, error) {
	s, err := gatherSummary(ctx, db, limit)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json summary: %w", err)
	}
	return string(data), nil
}

func gatherSummary(ctx context.Context, db *sql.DB, limit int) (*Summary, error) {
	counts, err := journal.StatusCounts(ctx, db)
	if err != nil {
		return nil, err
	}
	recent, err := journal.Recent(ctx, db, limit)
	if err != nil {
		return nil, err
	}
	ignored, err := journal.Ignored(ctx, db, limit)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []journal.Entry{}
	}
	if ignored == nil {
		ignored = []journal.IgnoredCompletion{}
	}
	return &Summary{Counts: counts, Recent: recent, Ignored: ignored}, nil
}

func renderStatus(e journal.Entry) string {
	if e.Status == journal.StatusResolved && e.IsError {
		return "error"
	}
	return e.Status
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "<none>"
	}
	return t.Local().Format("2006-01-02 15:04:05.000")
}

func msDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
