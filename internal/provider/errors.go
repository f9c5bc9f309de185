package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider call failed, driving both the
// retry-within-fallback-list decision and whether the whole run should
// surface the failure immediately.
type FailoverReason string

const (
	FailoverAuth           FailoverReason = "auth"
	FailoverRateLimit      FailoverReason = "rate_limit"
	FailoverServerError    FailoverReason = "server_error"
	FailoverInvalidRequest FailoverReason = "invalid_request"
	FailoverTimeout        FailoverReason = "timeout"
	FailoverUnknown        FailoverReason = "unknown"
)

// IsRetryable reports whether trying the same or a fallback model again may
// succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverServerError, FailoverTimeout:
		return true
	default:
		return false
	}
}

// LLMApiError is the typed error every dialect adapter normalizes non-2xx
// responses into (§4.E).
type LLMApiError struct {
	Provider string
	Model    string
	Status   int
	Body     string
	Reason   FailoverReason
	Cause    error
}

func (e *LLMApiError) Error() string {
	var parts []string
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Body != "" {
		parts = append(parts, e.Body)
	}
	return strings.Join(parts, " ")
}

func (e *LLMApiError) Unwrap() error { return e.Cause }

// Retryable mirrors the §7 taxonomy exactly: 401/403 are never retryable,
// 429 and 5xx are, everything else falls to the reason classifier.
func (e *LLMApiError) Retryable() bool {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return false
	case http.StatusTooManyRequests:
		return true
	}
	if e.Status >= 500 {
		return true
	}
	return e.Reason.IsRetryable()
}

// NewAPIError classifies a non-2xx response into a typed LLMApiError.
func NewAPIError(providerName, model string, status int, body string, cause error) *LLMApiError {
	reason := classifyStatus(status)
	if reason == FailoverUnknown && cause != nil {
		reason = classifyMessage(cause.Error())
	}
	return &LLMApiError{Provider: providerName, Model: model, Status: status, Body: body, Reason: reason, Cause: cause}
}

func classifyStatus(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyMessage(msg string) FailoverReason {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return FailoverRateLimit
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "401"), strings.Contains(lower, "403"):
		return FailoverAuth
	default:
		return FailoverUnknown
	}
}

// IsRetryable extracts and evaluates an LLMApiError from err, if any.
func IsRetryable(err error) bool {
	var apiErr *LLMApiError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}
