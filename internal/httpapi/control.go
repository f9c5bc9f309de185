package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/journal"
	"github.com/relaycore/chatengine/internal/undo"
)

// --- POST /chat/abort ---------------------------------------------------

type abortRequest struct {
	RunID     string `json:"runId"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeMalformedRequest, err.Error())
			return
		}
	}

	switch {
	case req.RunID != "":
		aborted := s.cfg.Supervisor.Abort(req.RunID)
		writeJSON(w, http.StatusOK, map[string]any{"aborted": aborted, "runId": req.RunID})
	case req.SessionID != "":
		n := s.cfg.Supervisor.AbortSession(req.SessionID)
		writeJSON(w, http.StatusOK, map[string]any{"abortedCount": n, "sessionId": req.SessionID})
	default:
		ids := s.cfg.Supervisor.Active()
		n := 0
		for _, id := range ids {
			if s.cfg.Supervisor.Abort(id) {
				n++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"abortedCount": n})
	}
}

// --- POST /chat/approve --------------------------------------------------

type approveRequest struct {
	ID          string `json:"id"`
	Approved    bool   `json:"approved"`
	AllowAlways bool   `json:"allowAlways"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, "id is required")
		return
	}
	if err := s.cfg.Approval.Resolve(req.ID, req.Approved, req.AllowAlways); err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "approved": req.Approved})
}

// --- GET/POST /chat/approval-mode -----------------------------------------

type approvalModeResponse struct {
	Mode   chatmodel.ApprovalMode `json:"mode"`
	Locked bool                   `json:"locked"`
}

func (s *Server) handleGetApprovalMode(w http.ResponseWriter, r *http.Request) {
	mode, locked := s.cfg.Approval.Mode()
	writeJSON(w, http.StatusOK, approvalModeResponse{Mode: mode, Locked: locked})
}

type setApprovalModeRequest struct {
	Mode chatmodel.ApprovalMode `json:"mode"`
}

func (s *Server) handleSetApprovalMode(w http.ResponseWriter, r *http.Request) {
	var req setApprovalModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, err.Error())
		return
	}
	switch req.Mode {
	case chatmodel.ApprovalModeOff, chatmodel.ApprovalModeMutate, chatmodel.ApprovalModeAlways:
	default:
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, "unknown approval mode "+string(req.Mode))
		return
	}
	if err := s.cfg.Approval.SetMode(req.Mode); err != nil {
		writeError(w, http.StatusLocked, CodeDaemonOperationBlocked, err.Error())
		return
	}
	mode, locked := s.cfg.Approval.Mode()
	writeJSON(w, http.StatusOK, approvalModeResponse{Mode: mode, Locked: locked})
}

// --- GET/POST /chat/run-config --------------------------------------------

// runConfigResponse is the effective snapshot §6 promises back from both
// the read and the patch call.
type runConfigResponse struct {
	Mode                     chatmodel.RunMode `json:"mode"`
	MaxIterations            int               `json:"maxIterations"`
	EconomyMode              bool              `json:"economyMode"`
	AllowIrreversibleActions bool              `json:"allowIrreversibleActions"`
	DailyBudgetUSD           *float64          `json:"dailyBudgetUsd,omitempty"`
	SpendPaused              bool              `json:"spendPaused"`
}

func (s *Server) runConfigSnapshot() runConfigResponse {
	loop := s.primary()
	runMode := loop.RunMode()
	economy := loop.Economy()
	spend := s.cfg.SpendGuard.Snapshot()
	return runConfigResponse{
		Mode:                     runMode.Mode,
		MaxIterations:            runMode.MaxIterations,
		EconomyMode:              economy.Enabled,
		AllowIrreversibleActions: runMode.AllowIrreversibleActions,
		DailyBudgetUSD:           spend.DailyBudgetUSD,
		SpendPaused:              spend.Paused,
	}
}

func (s *Server) handleGetRunConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runConfigSnapshot())
}

// setRunConfigRequest's fields are pointers so a PATCH-style partial body
// only touches the fields it names, matching the teacher's config-patch
// idiom of "nil means leave alone".
type setRunConfigRequest struct {
	Mode                     *chatmodel.RunMode `json:"mode"`
	MaxIterations            *int               `json:"maxIterations"`
	EconomyMode              *bool              `json:"economyMode"`
	DailyBudgetUSD           *float64           `json:"dailyBudgetUsd"`
	SpendPaused              *bool              `json:"spendPaused"`
	AllowIrreversibleActions *bool              `json:"allowIrreversibleActions"`
}

func (s *Server) handleSetRunConfig(w http.ResponseWriter, r *http.Request) {
	var req setRunConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, err.Error())
		return
	}

	loop := s.primary()
	runMode := loop.RunMode()
	economy := loop.Economy()

	if req.Mode != nil {
		runMode.Mode = *req.Mode
	}
	if req.MaxIterations != nil {
		if *req.MaxIterations <= 0 {
			writeError(w, http.StatusBadRequest, CodeMalformedRequest, "maxIterations must be positive")
			return
		}
		runMode.MaxIterations = *req.MaxIterations
	}
	if req.AllowIrreversibleActions != nil {
		runMode.AllowIrreversibleActions = *req.AllowIrreversibleActions
	}
	if req.EconomyMode != nil {
		economy.Enabled = *req.EconomyMode
	}
	loop.SetRunMode(runMode)
	loop.SetEconomy(economy)

	if req.DailyBudgetUSD != nil || req.SpendPaused != nil {
		spendCfg := s.cfg.SpendGuard.Snapshot()
		cfg := chatmodel.SpendGuardConfig{
			DailyBudgetUSD:   spendCfg.DailyBudgetUSD,
			AutoPauseOnLimit: spendCfg.AutoPauseOnLimit,
			Paused:           spendCfg.Paused,
		}
		if req.DailyBudgetUSD != nil {
			cfg.DailyBudgetUSD = req.DailyBudgetUSD
		}
		if req.SpendPaused != nil {
			cfg.Paused = *req.SpendPaused
		}
		s.cfg.SpendGuard.SetConfig(cfg)
	}

	writeJSON(w, http.StatusOK, s.runConfigSnapshot())
}

// --- GET/POST /chat/thinking -----------------------------------------------

func (s *Server) handleGetThinking(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.primary().Thinking())
}

type setThinkingRequest struct {
	Level      *chatmodel.ThinkingLevel      `json:"level"`
	Visibility *chatmodel.ThinkingVisibility `json:"visibility"`
}

func (s *Server) handleSetThinking(w http.ResponseWriter, r *http.Request) {
	var req setThinkingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, err.Error())
		return
	}
	loop := s.primary()
	cfg := loop.Thinking()
	if req.Level != nil {
		cfg.Level = *req.Level
	}
	if req.Visibility != nil {
		cfg.Visibility = *req.Visibility
	}
	loop.SetThinking(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

// --- POST /chat/undo -------------------------------------------------------

type undoRequest struct {
	Action string `json:"action"`
	ID     int64  `json:"id"`
	Count  int    `json:"count"`
}

type undoResultEntry struct {
	ActionID int64  `json:"actionId"`
	ToolName string `json:"toolName"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	var req undoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, err.Error())
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "list":
		undoable, err := s.cfg.Journal.ListUndoable(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "", err.Error())
			return
		}
		redoable, err := s.cfg.Journal.ListRedoable(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"undoable": undoable, "redoable": redoable})
		return
	case "undo_one":
		outcome, err := s.cfg.Undo.UndoOne(ctx)
		s.writeUndoOutcomes(w, []undo.Outcome{outcome}, err)
		return
	case "undo_last":
		count := req.Count
		if count <= 0 {
			count = 1
		}
		outcomes, err := s.cfg.Undo.UndoLastN(ctx, count)
		s.writeUndoOutcomes(w, outcomes, err)
		return
	case "undo_all":
		outcomes, err := s.cfg.Undo.UndoAll(ctx)
		s.writeUndoOutcomes(w, outcomes, err)
		return
	case "redo_one":
		outcome, err := s.cfg.Undo.RedoOne(ctx)
		s.writeUndoOutcomes(w, []undo.Outcome{outcome}, err)
		return
	case "redo_last":
		count := req.Count
		if count <= 0 {
			count = 1
		}
		outcomes, err := s.cfg.Undo.RedoLastN(ctx, count)
		s.writeUndoOutcomes(w, outcomes, err)
		return
	case "redo_all":
		outcomes, err := s.cfg.Undo.RedoAll(ctx)
		s.writeUndoOutcomes(w, outcomes, err)
		return
	default:
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, "unknown action "+req.Action)
		return
	}
}

func (s *Server) writeUndoOutcomes(w http.ResponseWriter, outcomes []undo.Outcome, err error) {
	if err != nil {
		if errors.Is(err, undo.ErrNothingToUndo) || errors.Is(err, undo.ErrNothingToRedo) {
			writeJSON(w, http.StatusOK, map[string]any{"results": []undoResultEntry{}})
			return
		}
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	results := make([]undoResultEntry, 0, len(outcomes))
	for _, o := range outcomes {
		entry := undoResultEntry{ActionID: o.RecordID, ToolName: o.Tool, Success: o.Err == nil}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordUndoOutcome(o.Kind, o.Err != nil)
		}
		results = append(results, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// --- GET /chat/actions -------------------------------------------------------

const defaultActionsLimit = 100

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	filter := journal.Filter{
		RunID:    r.URL.Query().Get("runId"),
		Category: chatmodel.ToolCategory(r.URL.Query().Get("category")),
	}
	records, err := s.cfg.Journal.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if s.cfg.Metrics != nil {
		// Best-effort: reflects whatever scope this particular read used,
		// not necessarily the journal's unfiltered total.
		s.cfg.Metrics.SetJournalSize(len(records))
	}

	limit := defaultActionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{"actions": records})
}
