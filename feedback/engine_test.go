package feedback

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, policy Policy) *Engine {
	t.Helper()
	e, err := NewEngine(policy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestShouldRetryRespectsCeiling(t *testing.T) {
	e := newTestEngine(t, Policy{MaxRetries: 3})

	// No record yet: within budget.
	if !e.ShouldRetry("task-1") {
		t.Error("expected retry with no failures recorded")
	}

	for i := 1; i <= 2; i++ {
		if err := e.RecordFailure("task-1", "agent-1", "transient"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if !e.ShouldRetry("task-1") {
			t.Errorf("expected retry after %d failures", i)
		}
	}

	if err := e.RecordFailure("task-1", "agent-1", "transient"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if e.ShouldRetry("task-1") {
		t.Error("expected no retry once failure count reaches max retries")
	}
}

func TestShouldRetryWithZeroBudget(t *testing.T) {
	e := newTestEngine(t, Policy{MaxRetries: 0})
	if e.ShouldRetry("task-1") {
		t.Error("zero retry budget must never retry")
	}
}

func TestHistoryPreservesOrder(t *testing.T) {
	e := newTestEngine(t, Policy{MaxRetries: 5})

	reasons := []string{"timeout", "disk full", "timeout again"}
	for _, r := range reasons {
		if err := e.RecordFailure("task-1", "agent-1", r); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	history := e.History("task-1")
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i, r := range reasons {
		if history[i].Reason != r {
			t.Errorf("entry %d: expected %q, got %q", i, r, history[i].Reason)
		}
	}

	rec, ok := e.Record("task-1")
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.FailureCount != 3 || rec.LastReason != "timeout again" {
		t.Errorf("unexpected record: count=%d last=%q", rec.FailureCount, rec.LastReason)
	}
}

func TestRecordSuccessClearsWhenConfigured(t *testing.T) {
	e := newTestEngine(t, Policy{MaxRetries: 3, ClearOnSuccess: true})

	if err := e.RecordFailure("task-1", "agent-1", "transient"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := e.RecordSuccess("task-1"); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	if _, ok := e.Record("task-1"); ok {
		t.Error("expected record to be cleared on success")
	}
}

func TestRecordSuccessRetainsForAudit(t *testing.T) {
	e := newTestEngine(t, Policy{MaxRetries: 3, ClearOnSuccess: false})

	if err := e.RecordFailure("task-1", "agent-1", "transient"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := e.RecordSuccess("task-1"); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	if _, ok := e.Record("task-1"); !ok {
		t.Error("expected record to survive success when ClearOnSuccess is off")
	}
}

func TestLedgerSurvivesRestartWhenPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.json")

	e := newTestEngine(t, Policy{MaxRetries: 3, PersistPath: path})
	if err := e.RecordFailure("task-1", "agent-1", "crash"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := e.RecordFailure("task-1", "agent-2", "crash again"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	// A fresh engine over the same path sees the accumulated history.
	reloaded := newTestEngine(t, Policy{MaxRetries: 3, PersistPath: path})
	rec, ok := reloaded.Record("task-1")
	if !ok {
		t.Fatal("expected persisted record after reload")
	}
	if rec.FailureCount != 2 {
		t.Errorf("expected failure count 2 after reload, got %d", rec.FailureCount)
	}
	if rec.History[1].AgentID != "agent-2" {
		t.Errorf("expected history order preserved, got %v", rec.History)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	e := newTestEngine(t, Policy{
		MaxRetries:  10,
		BaseBackoff: time.Second,
		MaxBackoff:  4 * time.Second,
	})

	if d := e.Backoff("task-1"); d != 0 {
		t.Errorf("expected zero backoff with no failures, got %v", d)
	}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second, // capped
	}
	for i, expected := range want {
		if err := e.RecordFailure("task-1", "agent-1", "boom"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if d := e.Backoff("task-1"); d != expected {
			t.Errorf("after %d failures: expected %v, got %v", i+1, expected, d)
		}
	}
}

func TestClearRemovesRecord(t *testing.T) {
	e := newTestEngine(t, Policy{MaxRetries: 3})

	if err := e.RecordFailure("task-1", "agent-1", "boom"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := e.Clear("task-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := e.Record("task-1"); ok {
		t.Error("expected record gone after Clear")
	}
	// Clearing an absent record is fine.
	if err := e.Clear("task-1"); err != nil {
		t.Errorf("Clear of absent record failed: %v", err)
	}
}
