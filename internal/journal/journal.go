// Package journal implements the Action Journal: the append-only,
// time-ordered history of every tool invocation, with reversal metadata
// consumed by the Undo Service.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// ErrNotFound is returned when a record id has no match.
var ErrNotFound = errors.New("journal: record not found")

// ErrAlreadySealed is returned by Complete when a record was already sealed.
var ErrAlreadySealed = errors.New("journal: record already sealed")

// Draft is the information needed to open an ActionRecord, supplied by the
// Guard Stack / Tool Registry before a tool executes.
type Draft struct {
	RunID    string
	Tool     string
	Category chatmodel.ToolCategory
	Args     string
	Approval chatmodel.ApprovalOutcome
	Undoable bool
}

// Filter narrows List results.
type Filter struct {
	RunID    string
	Category chatmodel.ToolCategory
	Undoable *bool
}

// Journal is the append-only store of ActionRecords.
//
// Invariants (spec.md §4.A): ids are unique and monotonic within a process;
// a record is never mutated after Complete except by the Undo Service
// appending a paired reversal; write failures fail the outer tool call,
// reads never fail.
type Journal interface {
	// Record opens a new ActionRecord and returns it with an allocated id
	// and stamped StartedAt. Must be called before the tool executes.
	Record(ctx context.Context, draft Draft) (*chatmodel.ActionRecord, error)

	// Complete seals a previously opened record with its outcome.
	Complete(ctx context.Context, id int64, result string, toolErr string) error

	// AttachReversal appends a reversal record referencing an existing
	// sealed record and returns the new record's id. Used only by the Undo
	// Service.
	AttachReversal(ctx context.Context, originalID int64, kind string, success bool, reversalErr string) (*chatmodel.ActionRecord, error)

	// Get returns a single record by id.
	Get(ctx context.Context, id int64) (*chatmodel.ActionRecord, error)

	// List returns sealed and open records in chronological order, optionally
	// filtered.
	List(ctx context.Context, filter Filter) ([]*chatmodel.ActionRecord, error)

	// ListUndoable returns records with Undoable=true whose most recent
	// reversal, if any, was a "redo" rather than an "undo", most recent
	// last.
	ListUndoable(ctx context.Context) ([]*chatmodel.ActionRecord, error)

	// ListRedoable returns records whose most recent reversal is a
	// successful "undo" not yet superseded by a "redo", most recent last.
	ListRedoable(ctx context.Context) ([]*chatmodel.ActionRecord, error)
}

// MemoryStore is a thread-safe in-memory Journal, grounded on the teacher's
// jobs.MemoryStore / agent.MemoryApprovalStore shape: a map plus an
// insertion-ordered key slice, guarded by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*chatmodel.ActionRecord
	order   []int64

	// reversals maps an original record id to the ids of reversal records
	// that target it, in application order.
	reversals map[int64][]int64
}

// NewMemoryStore returns an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[int64]*chatmodel.ActionRecord),
		reversals: make(map[int64][]int64),
	}
}

func (s *MemoryStore) Record(_ context.Context, draft Draft) (*chatmodel.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec := &chatmodel.ActionRecord{
		ID:        s.nextID,
		RunID:     draft.RunID,
		Tool:      draft.Tool,
		Category:  draft.Category,
		Args:      draft.Args,
		Approval:  draft.Approval,
		Undoable:  draft.Undoable,
		StartedAt: time.Now(),
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Complete(_ context.Context, id int64, result string, toolErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	if rec.Sealed() {
		return ErrAlreadySealed
	}
	now := time.Now()
	rec.EndedAt = &now
	rec.DurationMs = now.Sub(rec.StartedAt).Milliseconds()
	rec.Result = result
	rec.Error = toolErr
	return nil
}

func (s *MemoryStore) AttachReversal(_ context.Context, originalID int64, kind string, success bool, reversalErr string) (*chatmodel.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.records[originalID]
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", ErrNotFound, originalID)
	}
	if !original.Sealed() {
		return nil, fmt.Errorf("journal: cannot reverse unsealed record %d", originalID)
	}

	s.nextID++
	now := time.Now()
	rec := &chatmodel.ActionRecord{
		ID:        s.nextID,
		RunID:     original.RunID,
		Tool:      original.Tool,
		Category:  chatmodel.CategoryMeta,
		Args:      original.Args,
		Approval:  chatmodel.ApprovalAuto,
		Undoable:  false,
		StartedAt: now,
		EndedAt:   &now,
	}
	if !success {
		rec.Error = reversalErr
	}
	rec.Reversal = &chatmodel.Reversal{
		PairsWith: originalID,
		Kind:      kind,
		AppliedAt: now,
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	if success {
		s.reversals[originalID] = append(s.reversals[originalID], rec.ID)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*chatmodel.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*chatmodel.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*chatmodel.ActionRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		if filter.RunID != "" && rec.RunID != filter.RunID {
			continue
		}
		if filter.Category != "" && rec.Category != filter.Category {
			continue
		}
		if filter.Undoable != nil && rec.Undoable != *filter.Undoable {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// lastReversalKind returns the kind ("undo" or "redo") of the most recently
// applied successful reversal in ids, or "" if ids is empty. reversals[id]
// accumulates every successful reversal against an original in application
// order, so only the last entry reflects the record's current state.
func lastReversalKind(ids []int64, records map[int64]*chatmodel.ActionRecord) string {
	if len(ids) == 0 {
		return ""
	}
	last := records[ids[len(ids)-1]]
	if last == nil || last.Reversal == nil {
		return ""
	}
	return last.Reversal.Kind
}

// ListUndoable implements the undo cursor: records with Undoable=true whose
// most recent reversal, if any, was a "redo" (back in its applied state)
// rather than an "undo" (still reversed).
func (s *MemoryStore) ListUndoable(_ context.Context) ([]*chatmodel.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*chatmodel.ActionRecord
	for _, id := range s.order {
		rec := s.records[id]
		if !rec.Undoable || !rec.Sealed() || rec.Reversal != nil {
			continue
		}
		if lastReversalKind(s.reversals[id], s.records) == "undo" {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// ListRedoable implements the redo cursor: originals whose most recently
// applied reversal is a successful "undo" not yet superseded by a later
// "redo", ordered by when that undo was applied.
func (s *MemoryStore) ListRedoable(_ context.Context) ([]*chatmodel.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*chatmodel.ActionRecord
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Reversal == nil || rec.Reversal.Kind != "undo" {
			continue
		}
		original := rec.Reversal.PairsWith
		ids := s.reversals[original]
		if len(ids) == 0 || ids[len(ids)-1] != id {
			continue // superseded by a later reversal
		}
		out = append(out, cloneRecord(s.records[original]))
	}
	return out, nil
}

// Prune removes sealed records (and their reversal pairs) older than
// olderThan, returning the count removed. Run periodically by a cron job in
// cmd/chatengined so the journal does not grow unbounded.
func (s *MemoryStore) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := s.order[:0:0]
	pruned := 0
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Sealed() && rec.EndedAt.Before(cutoff) {
			delete(s.records, id)
			delete(s.reversals, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return pruned, nil
}

func cloneRecord(rec *chatmodel.ActionRecord) *chatmodel.ActionRecord {
	clone := *rec
	if rec.EndedAt != nil {
		endedAt := *rec.EndedAt
		clone.EndedAt = &endedAt
	}
	if rec.Reversal != nil {
		reversal := *rec.Reversal
		clone.Reversal = &reversal
	}
	return &clone
}
