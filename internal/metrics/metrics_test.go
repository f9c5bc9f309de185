package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRunAttempt(t *testing.T) {
	r := New()
	r.RecordRunAttempt("done")
	r.RecordRunAttempt("done")
	r.RecordRunAttempt("aborted")

	expected := `
		# HELP chatengine_run_attempts_total Total number of chat runs by outcome (started|aborted|error|done).
		# TYPE chatengine_run_attempts_total counter
		chatengine_run_attempts_total{status="aborted"} 1
		chatengine_run_attempts_total{status="done"} 2
	`
	if err := testutil.CollectAndCompare(r.RunAttempts, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	r := New()
	r.RecordLLMRequest("anthropic", "claude", "success", 1.5, 100, 40)

	if testutil.CollectAndCount(r.LLMRequestCounter) != 1 {
		t.Fatalf("expected one label combination recorded")
	}
	if testutil.CollectAndCount(r.LLMRequestDuration) != 1 {
		t.Fatalf("expected one duration observation")
	}
	if testutil.CollectAndCount(r.LLMTokensUsed) != 2 {
		t.Fatalf("expected prompt and completion token series, got %d", testutil.CollectAndCount(r.LLMTokensUsed))
	}
}

func TestRecordToolExecutionAndDenied(t *testing.T) {
	r := New()
	r.RecordToolExecution("web_search", "success", 0.2)
	r.RecordToolExecution("web_search", "error", 0.1)
	r.RecordToolDenied("undo_guarantee")

	if testutil.CollectAndCount(r.ToolExecutionCounter) != 2 {
		t.Fatalf("expected two status series for tool execution")
	}
	if testutil.CollectAndCount(r.ToolDenied) != 1 {
		t.Fatalf("expected one denial reason recorded")
	}
}

func TestSpendAndJournalGauges(t *testing.T) {
	r := New()
	r.SetSpendSnapshot("agent-a", 12.5, false)
	r.SetJournalSize(42)
	r.SetActiveRuns(3)

	if got := testutil.ToFloat64(r.SpendRemainingUSD.WithLabelValues("agent-a")); got != 12.5 {
		t.Fatalf("expected remaining 12.5, got %v", got)
	}
	if got := testutil.ToFloat64(r.SpendPaused); got != 0 {
		t.Fatalf("expected spend-paused gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(r.JournalSize); got != 42 {
		t.Fatalf("expected journal size 42, got %v", got)
	}
	if got := testutil.ToFloat64(r.ActiveRuns); got != 3 {
		t.Fatalf("expected active runs 3, got %v", got)
	}

	r.SetSpendSnapshot("agent-a", 0, true)
	if got := testutil.ToFloat64(r.SpendPaused); got != 1 {
		t.Fatalf("expected spend-paused gauge 1 after pausing, got %v", got)
	}
}

func TestRecordUndoOutcome(t *testing.T) {
	r := New()
	r.RecordUndoOutcome("undo", false)
	r.RecordUndoOutcome("undo", true)
	r.RecordUndoOutcome("redo", false)

	if testutil.CollectAndCount(r.UndoOutcomes) != 3 {
		t.Fatalf("expected three direction/result series, got %d", testutil.CollectAndCount(r.UndoOutcomes))
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RecordRunAttempt("done")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatengine_run_attempts_total") {
		t.Fatalf("expected exposition to contain our metric name, got %q", rec.Body.String())
	}
}
