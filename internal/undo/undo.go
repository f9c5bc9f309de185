// Package undo implements the Undo Service: LIFO reversal of journaled
// actions through per-tool ReverseHandlers, with partial-failure tolerance
// across batch operations.
package undo

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/journal"
)

// ErrNoHandler is returned when a tool has no registered ReverseHandler.
var ErrNoHandler = errors.New("undo: no reverse handler registered for tool")

// ErrNothingToUndo is returned by UndoOne/UndoLastN/UndoAll when the
// undoable cursor is empty.
var ErrNothingToUndo = errors.New("undo: nothing to undo")

// ErrNothingToRedo is returned when the redoable cursor is empty.
var ErrNothingToRedo = errors.New("undo: nothing to redo")

// ReverseHandler performs the inverse of one tool invocation, given the
// original call's argument JSON. A handler that cannot fully reverse its
// effect should return an error rather than silently no-op, so the caller
// can surface a partial-failure result.
type ReverseHandler func(ctx context.Context, argsJSON string) error

// Registry maps tool name to its ReverseHandler.
type Registry struct {
	handlers map[string]ReverseHandler
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ReverseHandler)}
}

// Register associates a tool name with a reverse handler. Re-registering a
// name overwrites the previous handler.
func (r *Registry) Register(tool string, handler ReverseHandler) {
	r.handlers[tool] = handler
}

func (r *Registry) lookup(tool string) (ReverseHandler, bool) {
	h, ok := r.handlers[tool]
	return h, ok
}

// Outcome reports the result of reversing a single ActionRecord.
type Outcome struct {
	RecordID int64
	Tool     string
	Kind     string // "undo" | "redo"
	Err      error
}

// Service ties the journal's undo/redo cursors to registered reverse
// handlers.
type Service struct {
	journal journal.Journal
	reg     *Registry
}

// New constructs an undo Service over the given journal and handler
// registry.
func New(j journal.Journal, reg *Registry) *Service {
	return &Service{journal: j, reg: reg}
}

// UndoOne reverses the single most recently recorded undoable action.
func (s *Service) UndoOne(ctx context.Context) (Outcome, error) {
	outcomes, err := s.UndoLastN(ctx, 1)
	if err != nil {
		return Outcome{}, err
	}
	return outcomes[0], nil
}

// UndoLastN reverses up to n undoable actions, most recent first (LIFO).
// It stops at the first record whose reverse handler errors or is missing,
// returning the outcomes attempted so far (partial-failure tolerance): a
// caller that asked to undo 5 actions and hit a failure on the 3rd gets
// back 3 outcomes, the last one carrying the error.
func (s *Service) UndoLastN(ctx context.Context, n int) ([]Outcome, error) {
	undoable, err := s.journal.ListUndoable(ctx)
	if err != nil {
		return nil, err
	}
	if len(undoable) == 0 {
		return nil, ErrNothingToUndo
	}

	var outcomes []Outcome
	for i := len(undoable) - 1; i >= 0 && len(outcomes) < n; i-- {
		rec := undoable[i]
		outcome := s.applyReversal(ctx, rec, "undo")
		outcomes = append(outcomes, outcome)
		if outcome.Err != nil {
			break
		}
	}
	return outcomes, nil
}

// UndoAll reverses every currently undoable action, LIFO, stopping at the
// first failure and returning everything attempted up to and including it.
func (s *Service) UndoAll(ctx context.Context) ([]Outcome, error) {
	undoable, err := s.journal.ListUndoable(ctx)
	if err != nil {
		return nil, err
	}
	if len(undoable) == 0 {
		return nil, ErrNothingToUndo
	}
	return s.UndoLastN(ctx, len(undoable))
}

// RedoOne re-applies the single most recently undone action.
func (s *Service) RedoOne(ctx context.Context) (Outcome, error) {
	outcomes, err := s.RedoLastN(ctx, 1)
	if err != nil {
		return Outcome{}, err
	}
	return outcomes[0], nil
}

// RedoLastN re-applies up to n undone actions, most recently undone first.
func (s *Service) RedoLastN(ctx context.Context, n int) ([]Outcome, error) {
	redoable, err := s.journal.ListRedoable(ctx)
	if err != nil {
		return nil, err
	}
	if len(redoable) == 0 {
		return nil, ErrNothingToRedo
	}

	var outcomes []Outcome
	for i := len(redoable) - 1; i >= 0 && len(outcomes) < n; i-- {
		rec := redoable[i]
		outcome := s.applyReversal(ctx, rec, "redo")
		outcomes = append(outcomes, outcome)
		if outcome.Err != nil {
			break
		}
	}
	return outcomes, nil
}

// RedoAll re-applies every currently redoable action, stopping at the first
// failure.
func (s *Service) RedoAll(ctx context.Context) ([]Outcome, error) {
	redoable, err := s.journal.ListRedoable(ctx)
	if err != nil {
		return nil, err
	}
	if len(redoable) == 0 {
		return nil, ErrNothingToRedo
	}
	return s.RedoLastN(ctx, len(redoable))
}

func (s *Service) applyReversal(ctx context.Context, rec *chatmodel.ActionRecord, kind string) Outcome {
	outcome := Outcome{RecordID: rec.ID, Tool: rec.Tool, Kind: kind}

	handler, ok := s.reg.lookup(rec.Tool)
	if !ok {
		outcome.Err = fmt.Errorf("%w: %s", ErrNoHandler, rec.Tool)
		_, _ = s.journal.AttachReversal(ctx, rec.ID, kind, false, outcome.Err.Error())
		return outcome
	}

	if err := handler(ctx, rec.Args); err != nil {
		outcome.Err = err
		_, _ = s.journal.AttachReversal(ctx, rec.ID, kind, false, err.Error())
		return outcome
	}

	if _, err := s.journal.AttachReversal(ctx, rec.ID, kind, true, ""); err != nil {
		outcome.Err = err
	}
	return outcome
}
