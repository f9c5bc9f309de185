// Package chathistory stores the per-session transcript the Context
// Preparer reads from and the Chat Loop appends to. spec.md treats the
// store as opaque/external; this package provides the in-memory
// implementation this build exercises it with.
package chathistory

import (
	"context"
	"sync"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// maxMessagesPerSession bounds unbounded growth the same way the teacher's
// sessions.MemoryStore does, independent of the Context Preparer's own
// compaction (which trims what is sent to the model, not what is stored).
const maxMessagesPerSession = 2000

// Store is the full interface this package's MemoryStore implements, a
// superset of contextprep.ChatHistoryStore (History, Replace) that adds
// Append for the Chat Loop's write path.
type Store interface {
	History(ctx context.Context, sessionID string) ([]chatmodel.Message, error)
	Append(ctx context.Context, sessionID string, msg chatmodel.Message) error
	Replace(ctx context.Context, sessionID string, messages []chatmodel.Message) error
}

// MemoryStore is the in-memory Store: partitioned by sessionID, writes
// within a session are serialized by a single mutex per §5's resource
// model ("writes within a session are serialized").
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]chatmodel.Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]chatmodel.Message)}
}

// History returns a copy of the session's transcript in append order. A
// session with no messages yet returns an empty (non-nil) slice.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]chatmodel.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chatmodel.Message(nil), s.sessions[sessionID]...), nil
}

// Append adds one message to the end of the session's transcript,
// trimming the oldest messages if the per-session cap is exceeded.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msg chatmodel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	if len(s.sessions[sessionID]) > maxMessagesPerSession {
		excess := len(s.sessions[sessionID]) - maxMessagesPerSession
		s.sessions[sessionID] = s.sessions[sessionID][excess:]
	}
	return nil
}

// Replace overwrites the session's transcript wholesale, used by the
// Context Preparer after compaction.
func (s *MemoryStore) Replace(_ context.Context, sessionID string, messages []chatmodel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append([]chatmodel.Message(nil), messages...)
	return nil
}

// Clear drops a session's entire transcript.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
