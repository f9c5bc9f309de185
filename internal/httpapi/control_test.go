package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/journal"
	"github.com/relaycore/chatengine/internal/provider"
)

func doJSON(t *testing.T, h *testHarness, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.server.Mux().ServeHTTP(rec, req)
	return rec
}

func TestApprovalModeRoundTrip(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})

	rec := doJSON(t, h, http.MethodGet, "/chat/approval-mode", nil)
	var got approvalModeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Mode != chatmodel.ApprovalModeOff {
		t.Fatalf("expected initial mode off, got %q", got.Mode)
	}

	rec = doJSON(t, h, http.MethodPost, "/chat/approval-mode", setApprovalModeRequest{Mode: chatmodel.ApprovalModeAlways})
	if rec.Code != http.StatusOK {
		t.Fatalf("set approval mode: %d %s", rec.Code, rec.Body.String())
	}
	mode, _ := h.approval.Mode()
	if mode != chatmodel.ApprovalModeAlways {
		t.Fatalf("expected mode always, got %q", mode)
	}
}

func TestApprovalModeLockedRejectsChange(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})
	h.approval.Lock()

	rec := doJSON(t, h, http.MethodPost, "/chat/approval-mode", setApprovalModeRequest{Mode: chatmodel.ApprovalModeAlways})
	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423 when locked, got %d", rec.Code)
	}
}

func TestRunConfigPatchUpdatesLoop(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})

	maxIter := 7
	econ := true
	rec := doJSON(t, h, http.MethodPost, "/chat/run-config", setRunConfigRequest{
		MaxIterations: &maxIter,
		EconomyMode:   &econ,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch run-config: %d %s", rec.Code, rec.Body.String())
	}
	if h.loop.RunMode().MaxIterations != 7 {
		t.Fatalf("expected maxIterations 7, got %d", h.loop.RunMode().MaxIterations)
	}
	if !h.loop.Economy().Enabled {
		t.Fatalf("expected economy mode enabled")
	}

	rec = doJSON(t, h, http.MethodGet, "/chat/run-config", nil)
	var got runConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MaxIterations != 7 || !got.EconomyMode {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestRunConfigRejectsNonPositiveMaxIterations(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})
	zero := 0
	rec := doJSON(t, h, http.MethodPost, "/chat/run-config", setRunConfigRequest{MaxIterations: &zero})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestThinkingPatch(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})
	level := chatmodel.ThinkingHigh
	rec := doJSON(t, h, http.MethodPost, "/chat/thinking", setThinkingRequest{Level: &level})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch thinking: %d %s", rec.Code, rec.Body.String())
	}
	if h.loop.Thinking().Level != chatmodel.ThinkingHigh {
		t.Fatalf("expected thinking level high, got %q", h.loop.Thinking().Level)
	}
}

func TestUndoLastReversesJournaledAction(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})
	ctx := context.Background()

	called := false
	h.undoRegistry.Register("noop_tool", func(context.Context, string) error {
		called = true
		return nil
	})

	rec, err := h.journal.Record(ctx, journal.Draft{
		RunID: "r1", Tool: "noop_tool", Category: chatmodel.CategoryMutate,
		Args: `{}`, Approval: chatmodel.ApprovalAuto, Undoable: true,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := h.journal.Complete(ctx, rec.ID, "ok", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp := doJSON(t, h, http.MethodPost, "/chat/undo", undoRequest{Action: "undo_last", Count: 1})
	if resp.Code != http.StatusOK {
		t.Fatalf("undo: %d %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		Results []undoResultEntry `json:"results"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Results) != 1 || !decoded.Results[0].Success {
		t.Fatalf("expected one successful undo result, got %+v", decoded.Results)
	}
	if !called {
		t.Fatalf("expected reverse handler to be invoked")
	}

	undoable, err := h.journal.ListUndoable(ctx)
	if err != nil {
		t.Fatalf("list undoable: %v", err)
	}
	if len(undoable) != 0 {
		t.Fatalf("expected record to leave the undoable cursor, got %+v", undoable)
	}
}

func TestActionsReturnsRecentJournalEntries(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})
	ctx := context.Background()

	rec, err := h.journal.Record(ctx, journal.Draft{RunID: "r1", Tool: "echo", Category: chatmodel.CategoryRead, Args: "{}"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := h.journal.Complete(ctx, rec.ID, "abc", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp := doJSON(t, h, http.MethodGet, "/chat/actions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("actions: %d %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		Actions []*chatmodel.ActionRecord `json:"actions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Actions) != 1 || decoded.Actions[0].Tool != "echo" {
		t.Fatalf("unexpected actions list: %+v", decoded.Actions)
	}
}

func TestAbortBySessionID(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake", responses: [][]provider.StreamEvent{
		{{ContentDelta: "hi", Done: true}},
	}})

	h.supervisor.Start(context.Background(), "s1", 5)
	resp := doJSON(t, h, http.MethodPost, "/chat/abort", abortRequest{SessionID: "s1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("abort: %d %s", resp.Code, resp.Body.String())
	}
	if h.supervisor.ActiveCount() != 0 {
		t.Fatalf("expected no active runs after abort, got %d", h.supervisor.ActiveCount())
	}
}

func TestApproveRejectsUnknownID(t *testing.T) {
	h := newHarness(t, &fakeAdapter{name: "fake"})

	resp := doJSON(t, h, http.MethodPost, "/chat/approve", approveRequest{ID: "does-not-exist", Approved: true})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", resp.Code)
	}
}
