package timetable

import (
	"context"
	"sync"
)

// MemoryStore keeps timetables in process; for dev and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[ClassKey]Timetable
	order  []ClassKey
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[ClassKey]Timetable)}
}

func (s *MemoryStore) Find(_ context.Context, class ClassKey) (*Timetable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[class]
	if !ok {
		return nil, nil
	}
	t.Periods = append([]ScheduledPeriod(nil), t.Periods...)
	return &t, nil
}

func (s *MemoryStore) FindByTeacher(_ context.Context, teacherID string) ([]Timetable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Timetable
	for _, key := range s.order {
		t := s.tables[key]
		for _, p := range t.Periods {
			if p.TeacherID == teacherID {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Replace(_ context.Context, t Timetable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[t.Class]; !ok {
		s.order = append(s.order, t.Class)
	}
	t.Periods = append([]ScheduledPeriod(nil), t.Periods...)
	s.tables[t.Class] = t
	return nil
}
