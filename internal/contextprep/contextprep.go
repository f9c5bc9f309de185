package contextprep

import (
	"context"
	"fmt"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// Preparer builds the working message list for one LLM call: pull history,
// re-render the system message, compact if the transcript has grown past
// threshold.
type Preparer struct {
	History   ChatHistoryStore
	Compactor Compactor
	Counter   TokenCounter

	// Threshold is the token count above which Prepare triggers compaction.
	// Zero disables compaction entirely.
	Threshold int
}

// NewPreparer wires a Preparer with sensible defaults: the size-window
// compactor and the character-estimate token counter.
func NewPreparer(history ChatHistoryStore, threshold int) *Preparer {
	return &Preparer{
		History:   history,
		Compactor: NewSizeCompactor(20),
		Counter:   EstimateTokens,
		Threshold: threshold,
	}
}

// Result is the prepared message list plus an optional compaction event for
// the Chat Loop to emit.
type Result struct {
	Messages   []chatmodel.Message
	Compaction *CompactionEvent
}

// Prepare implements §4.F steps 1-3: pull history, replace the leading
// system message, and compact when the transcript exceeds Threshold tokens.
func (p *Preparer) Prepare(ctx context.Context, sessionID string, systemPrompt string) (Result, error) {
	history, err := p.History.History(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("contextprep: load history: %w", err)
	}

	messages := withSystemMessage(history, systemPrompt)

	if p.Threshold <= 0 || p.Compactor == nil {
		return Result{Messages: messages}, nil
	}

	counter := p.Counter
	if counter == nil {
		counter = EstimateTokens
	}
	if counter(messages) <= p.Threshold {
		return Result{Messages: messages}, nil
	}

	before := len(messages)
	compacted, err := p.Compactor.Compact(ctx, messages)
	if err != nil {
		return Result{}, fmt.Errorf("contextprep: compact: %w", err)
	}

	if compacted.DroppedCount > 0 {
		if err := p.History.Replace(ctx, sessionID, compacted.Messages); err != nil {
			return Result{}, fmt.Errorf("contextprep: persist compaction: %w", err)
		}
	}

	return Result{
		Messages: compacted.Messages,
		Compaction: &CompactionEvent{
			MessageCountBefore: before,
			MessageCountAfter:  len(compacted.Messages),
			DroppedCount:       compacted.DroppedCount,
			Metadata:           compacted.Metadata,
		},
	}, nil
}

// withSystemMessage replaces a leading system message with the freshly
// rendered prompt, or prepends one if history has none.
func withSystemMessage(history []chatmodel.Message, systemPrompt string) []chatmodel.Message {
	sysMsg := chatmodel.Message{Role: chatmodel.RoleSystem, Content: systemPrompt}

	if len(history) > 0 && history[0].Role == chatmodel.RoleSystem {
		out := make([]chatmodel.Message, len(history))
		copy(out, history)
		out[0] = sysMsg
		return out
	}

	out := make([]chatmodel.Message, 0, len(history)+1)
	out = append(out, sysMsg)
	out = append(out, history...)
	return out
}
