package httpapi

import (
	"encoding/json"
	"net/http"
)

// Error codes named in spec §7, surfaced in the `code` field of a JSON
// error body.
const (
	CodeAttachmentInvalid      = "CHAT_ATTACHMENT_INVALID"
	CodeDaemonOperationBlocked = "DAEMON_OPERATION_MODE_BLOCK"
	CodeSpendLimitReached      = "CHAT_SPEND_LIMIT_REACHED"
	CodeMalformedRequest       = "CHAT_MALFORMED_REQUEST"
	CodeNotFound               = "CHAT_NOT_FOUND"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
