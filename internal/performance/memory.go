package performance

import (
	"context"
	"sync"
)

// MemoryStore keeps summaries in process.
type MemoryStore struct {
	mu   sync.RWMutex
	sums map[string]Summary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sums: make(map[string]Summary)}
}

func (s *MemoryStore) Find(_ context.Context, studentID string) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.sums[studentID]
	if !ok {
		return nil, nil
	}
	sum.SubjectWise = append([]SubjectStat(nil), sum.SubjectWise...)
	return &sum, nil
}

func (s *MemoryStore) Upsert(_ context.Context, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum.SubjectWise = append([]SubjectStat(nil), sum.SubjectWise...)
	s.sums[sum.StudentID] = sum
	return nil
}
