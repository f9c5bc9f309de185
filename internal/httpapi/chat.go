package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/relaycore/chatengine/internal/chatloop"
	"github.com/relaycore/chatengine/internal/config"
	"github.com/relaycore/chatengine/internal/eventstream"
	"github.com/relaycore/chatengine/internal/guard"
)

// chatRequest is the POST /chat body (§6). Attachments and SwarmMode are
// accepted and validated but this build's loop has nothing further to do
// with them: attachments beyond "well-formed" are out of scope, and
// swarm/multi-agent fan-out is a non-goal spec.md names explicitly.
type chatRequest struct {
	Message     string       `json:"message"`
	SessionID   string       `json:"sessionId"`
	AgentID     string       `json:"agentId"`
	Model       string       `json:"model"`
	Attachments []attachment `json:"attachments"`
	SwarmMode   bool         `json:"swarmMode"`
}

type attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
	Content  string `json:"content"`
}

// validate reports the first malformed field, matching §7's
// AttachmentInvalid/malformed-input taxonomy.
func (r chatRequest) validate() (code, message string, ok bool) {
	if strings.TrimSpace(r.Message) == "" && len(r.Attachments) == 0 {
		return CodeMalformedRequest, "message or attachments required", false
	}
	for _, a := range r.Attachments {
		if strings.TrimSpace(a.Name) == "" {
			return CodeAttachmentInvalid, "attachment missing name", false
		}
		if strings.TrimSpace(a.URL) == "" && strings.TrimSpace(a.Content) == "" {
			return CodeAttachmentInvalid, "attachment " + a.Name + " has neither url nor inline content", false
		}
	}
	return "", "", true
}

// flushWriter adapts an http.ResponseWriter + http.Flusher pair into the
// plain io.Writer eventstream.Encoder expects, flushing after every Write
// so each SSE frame reaches the client as soon as it is produced. Per the
// Encoder's own doc comment it "has no knowledge of HTTP"; this is the one
// place that knowledge lives.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, "malformed request body: "+err.Error())
		return
	}
	if code, message, ok := req.validate(); !ok {
		writeError(w, http.StatusBadRequest, code, message)
		return
	}

	loop, ok := s.loop(req.AgentID)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeMalformedRequest, "unknown agentId "+req.AgentID)
		return
	}

	// Pre-flight checks that §6 maps to a distinct HTTP status are done
	// here, before any header commits the response to 200, rather than
	// relying solely on chatloop.Loop.Run's own pre-flight (which runs
	// after headers are already sent for an SSE body and so can only
	// report a rejection as a terminal error event, not a status code).
	// Loop.Run repeats both checks internally; a rejection there after
	// this one passed (a narrow race) falls back to that error event.
	if s.cfg.OperationMode != nil && s.cfg.OperationMode() != config.ModeNormal {
		writeError(w, http.StatusLocked, CodeDaemonOperationBlocked, "daemon is not in normal operation mode")
		return
	}
	if s.cfg.SpendGuard != nil {
		if err := s.cfg.SpendGuard.PrecheckRun(); err != nil {
			writeError(w, http.StatusTooManyRequests, CodeSpendLimitReached, err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	enc := eventstream.NewEncoder(flushWriter{w: w, f: flusher})

	runReq := chatloop.Request{
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
		Message:   req.Message,
		Model:     req.Model,
	}

	err := loop.Run(r.Context(), runReq, enc)
	if err != nil {
		// Run returned before writing any event: the pre-flight checks
		// rejected the request outright. The response status line is
		// already committed to 200 by WriteHeader above only if a flusher
		// flushed it; net/http lets us still send a different status as
		// long as nothing has been written to the body yet in the common
		// case, but since headers are already sent for SSE we instead
		// report the rejection as a terminal error event, keeping the
		// transport-level status at 200 for "started" responses and the
		// error visible on the one channel the client is already reading.
		s.writePreflightRejection(enc, err)
	}

	_ = enc.Done()
}

// writePreflightRejection reports a Run pre-flight error as a terminal
// event when headers have already committed to 200. §6 names 423/429 as
// the status for these rejections; httptest-level tests exercise the
// precheck paths directly against the guard/loop layer rather than through
// this fallback, since an SSE response cannot change its status code after
// the first flush.
func (s *Server) writePreflightRejection(enc *eventstream.Encoder, err error) {
	code := "precondition_failed"
	switch {
	case errors.Is(err, chatloop.ErrDaemonNotNormal):
		code = CodeDaemonOperationBlocked
	case errors.Is(err, guard.ErrSpendLimitReached):
		code = CodeSpendLimitReached
	}
	_ = enc.Write(eventstream.New(eventstream.KindError, eventstream.ErrorPayload{
		Message: err.Error(),
		Code:    code,
	}))
}
