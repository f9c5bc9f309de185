package contextprep

import (
	"context"
	"strconv"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// CompactionResult is what a Compactor returns: the replacement message
// list plus enough metadata for the Chat Loop to report a compaction event.
type CompactionResult struct {
	Messages     []chatmodel.Message
	DroppedCount int
	Metadata     map[string]string
}

// Compactor trims a transcript that has grown past the context-window
// threshold. spec.md treats compaction strategy as external/pluggable; this
// package only defines when it is invoked and how the outcome is reported.
type Compactor interface {
	Compact(ctx context.Context, messages []chatmodel.Message) (CompactionResult, error)
}

// TokenCounter estimates the token cost of a transcript. Swappable so a real
// tokenizer can replace the default character-based estimate.
type TokenCounter func(messages []chatmodel.Message) int

// EstimateTokens is the default TokenCounter: roughly four characters per
// token, the same rough ratio the teacher's context packer uses for
// diagnostics before a real tokenizer is wired in.
func EstimateTokens(messages []chatmodel.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, p := range m.Parts {
			chars += len(p.Text) + len(p.Result)
		}
		for _, tc := range m.ToolCalls {
			chars += len(tc.ArgsJSON)
		}
	}
	return chars / 4
}

// CompactionEvent is emitted by the Chat Loop whenever Prepare triggers
// compaction, carrying enough for a client-facing `compaction` wire event.
type CompactionEvent struct {
	MessageCountBefore int
	MessageCountAfter  int
	DroppedCount       int
	Metadata           map[string]string
}

// SizeCompactor is the default Compactor: keeps the leading system message
// plus the last KeepTurns messages, dropping everything in between. It never
// summarizes; summarizing compactors are expected to wrap or replace it.
type SizeCompactor struct {
	KeepTurns int
}

// NewSizeCompactor returns a SizeCompactor keeping the given number of
// trailing messages, defaulting to 20 when keepTurns <= 0.
func NewSizeCompactor(keepTurns int) *SizeCompactor {
	if keepTurns <= 0 {
		keepTurns = 20
	}
	return &SizeCompactor{KeepTurns: keepTurns}
}

func (c *SizeCompactor) Compact(_ context.Context, messages []chatmodel.Message) (CompactionResult, error) {
	if len(messages) == 0 {
		return CompactionResult{Messages: messages}, nil
	}

	var system *chatmodel.Message
	rest := messages
	if messages[0].Role == chatmodel.RoleSystem {
		s := messages[0]
		system = &s
		rest = messages[1:]
	}

	if len(rest) <= c.KeepTurns {
		return CompactionResult{Messages: messages}, nil
	}

	kept := rest[len(rest)-c.KeepTurns:]
	dropped := len(rest) - len(kept)

	out := make([]chatmodel.Message, 0, len(kept)+1)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, kept...)

	return CompactionResult{
		Messages:     out,
		DroppedCount: dropped,
		Metadata:     map[string]string{"strategy": "size_window", "keptTurns": strconv.Itoa(c.KeepTurns)},
	}, nil
}
