// Package provider bridges the canonical chat model to the two vendor wire
// protocols (OpenAI-style and Anthropic-style), presenting both as a single
// canonical stream to the Chat Loop.
package provider

import "strings"

// Dialect is an explicit tagged variant rather than string matching, per
// the corpus's own "avoid string matching on provider" lesson: detection
// happens once, at selection time, and every call site afterward switches
// on this enum.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// DetectDialect resolves the wire dialect for a base URL: an explicit field
// wins, then a host-substring heuristic, defaulting to OpenAI-style for
// anything unrecognized (most local and OpenAI-compatible servers speak
// that dialect).
func DetectDialect(explicit Dialect, baseURL string) Dialect {
	if explicit != "" {
		return explicit
	}
	host := strings.ToLower(baseURL)
	switch {
	case strings.Contains(host, "anthropic.com"):
		return DialectAnthropic
	case strings.Contains(host, "googleapis.com"),
		strings.Contains(host, "openrouter.ai"),
		strings.Contains(host, "deepseek.com"),
		strings.Contains(host, ":11434"),
		strings.Contains(host, ":1234"):
		return DialectOpenAI
	default:
		return DialectOpenAI
	}
}
