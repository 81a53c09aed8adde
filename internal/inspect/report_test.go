package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/journal"
	"github.com/mattjoyce/pollbridge/internal/storage"
)

func seedJournal(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()
	j, err := journal.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	now := time.Now()
	done := bridge.Invocation{ID: "inv-done", Payload: json.RawMessage(`{"RunCode":{"command":"print(1)"}}`), EnqueuedAt: now}
	failed := bridge.Invocation{ID: "inv-failed", Payload: json.RawMessage(`{"InsertModel":{"query":"tree"}}`), EnqueuedAt: now.Add(time.Millisecond)}
	gone := bridge.Invocation{ID: "inv-gone", Payload: json.RawMessage(`{"GetStudioMode":{}}`), EnqueuedAt: now.Add(2 * time.Millisecond)}

	j.InvocationEnqueued(done)
	j.InvocationClaimed(done, 0)
	j.InvocationResolved(done, bridge.Result{Response: json.RawMessage(`"1"`)}, 0)

	j.InvocationEnqueued(failed)
	j.InvocationClaimed(failed, 0)
	j.InvocationResolved(failed, bridge.ErrorResult("no such model"), 0)

	j.InvocationEnqueued(gone)
	j.InvocationAbandoned(gone, bridge.AbandonCancelled, 0)
	j.CompletionIgnored("inv-gone", bridge.OutcomeStale)

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := j.Sync(syncCtx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return dbPath
}

func TestBuildReportRendersInvocation(t *testing.T) {
	t.Parallel()

	dbPath := seedJournal(t)
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	out, err := BuildReport(context.Background(), db, "inv-done")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{"Invocation Report", "inv-done", "RunCode", "resolved", "Queue wait", "blake3:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}

	out, err = BuildReport(context.Background(), db, "inv-failed")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if !strings.Contains(out, "Status      : error") {
		t.Fatalf("expected error status:\n%s", out)
	}

	if _, err := BuildReport(context.Background(), db, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, err := BuildReport(context.Background(), db, " "); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()

	dbPath := seedJournal(t)
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	out, err := BuildJSONReport(context.Background(), db, "inv-gone")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.ID != "inv-gone" || report.Status != "cancelled" || report.Reason != "cancelled" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.QueueWaitMS != nil {
		t.Fatalf("never claimed, got queue wait %d", *report.QueueWaitMS)
	}
	if report.DurationMS == nil {
		t.Fatal("expected duration for finished invocation")
	}
}

func TestBuildSummary(t *testing.T) {
	t.Parallel()

	dbPath := seedJournal(t)
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	out, err := BuildSummary(context.Background(), db, 10)
	if err != nil {
		t.Fatalf("BuildSummary: %v", err)
	}
	for _, want := range []string{"resolved", "cancelled", "inv-failed", "Ignored completions", "stale"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "inv-gone") > strings.Index(out, "inv-done") {
		t.Fatalf("expected newest first:\n%s", out)
	}

	js, err := BuildJSONSummary(context.Background(), db, 2)
	if err != nil {
		t.Fatalf("BuildJSONSummary: %v", err)
	}
	var s Summary
	if err := json.Unmarshal([]byte(js), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Counts["resolved"] != 2 || s.Counts["cancelled"] != 1 {
		t.Fatalf("unexpected counts: %v", s.Counts)
	}
	if len(s.Recent) != 2 {
		t.Fatalf("limit not applied: %d entries", len(s.Recent))
	}
	if len(s.Ignored) != 1 || s.Ignored[0].Outcome != "stale" {
		t.Fatalf("unexpected ignored: %+v", s.Ignored)
	}
}

func TestBuildSummaryEmptyJournal(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	out, err := BuildSummary(context.Background(), db, 5)
	if err != nil {
		t.Fatalf("BuildSummary: %v", err)
	}
	if !strings.Contains(out, "<none>") {
		t.Fatalf("expected empty marker:\n%s", out)
	}
}
