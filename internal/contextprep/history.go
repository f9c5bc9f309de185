// Package contextprep builds the working message list for a single LLM call:
// system prompt synthesis, tool-schema digesting, and threshold-triggered
// compaction of long transcripts.
package contextprep

import (
	"context"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// ChatHistoryStore is the session transcript the preparer reads from and,
// when compaction runs, writes back to. Implementations live outside this
// package (in-memory for tests, persistent for the daemon).
type ChatHistoryStore interface {
	History(ctx context.Context, sessionID string) ([]chatmodel.Message, error)
	Replace(ctx context.Context, sessionID string, messages []chatmodel.Message) error
}
