package drivers

import (
	"context"
	"sync"

	"github.com/nadzzz/voicerelay/internal/history"
)

// MemoryStore keeps history in process memory. Nothing is persisted or
// evicted; history lives as long as the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]history.Message
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]history.Message)}
}

// Load implements history.Store. The returned slice is a copy.
func (s *MemoryStore) Load(_ context.Context, session string) ([]history.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[session]
	out := make([]history.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Append implements history.Store.
func (s *MemoryStore) Append(_ context.Context, session string, msgs ...history.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session] = append(s.sessions[session], msgs...)
	return nil
}

// Reset implements history.Store.
func (s *MemoryStore) Reset(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, session)
	return nil
}

// Close implements history.Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string][]history.Message)
	return nil
}
