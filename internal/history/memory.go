package history

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu       sync.Mutex
	maxTurns int
	entries  map[string][]Entry
	counters map[string]int64
}

func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{
		maxTurns: maxTurns,
		entries:  map[string][]Entry{},
		counters: map[string]int64{},
	}
}

func (s *MemoryStore) NextTurnID(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[sessionID]++
	return s.counters[sessionID], nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append(s.entries[sessionID], entry)
	if s.maxTurns > 0 && len(entries) > s.maxTurns {
		entries = append([]Entry(nil), entries[len(entries)-s.maxTurns:]...)
	}
	s.entries[sessionID] = entries
	return nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries[sessionID]...), nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	delete(s.counters, sessionID)
	return nil
}
