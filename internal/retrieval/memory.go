package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/querypilot/querypilot/internal/training"
)

// MemoryStore keeps records in process. It is the default when no vector
// database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) Upsert(_ context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, record := range records {
		if _, exists := s.records[record.ID]; exists {
			continue
		}
		record.Embedding = append([]float64(nil), record.Embedding...)
		s.records[record.ID] = record
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) Nearest(_ context.Context, resource string, kind training.Kind, vector []float64, k int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		record   Record
		distance float64
	}
	candidates := make([]scored, 0)
	for _, record := range s.records {
		if record.Resource != resource || record.Item.Kind != kind {
			continue
		}
		candidates = append(candidates, scored{record: record, distance: CosineDistance(vector, record.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance == candidates[j].distance {
			return candidates[i].record.ID < candidates[j].record.ID
		}
		return candidates[i].distance < candidates[j].distance
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Record, len(candidates))
	for i, candidate := range candidates {
		out[i] = candidate.record
	}
	return out, nil
}

func (s *MemoryStore) DeleteResource(_ context.Context, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.records {
		if record.Resource == resource {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
