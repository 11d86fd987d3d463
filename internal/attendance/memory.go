package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"attendance/internal/timetable"
)

// MemoryStore keeps records in process; for dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

func (s *MemoryStore) Find(_ context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.records[rec.Key()]; ok {
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.Key()] = rec
	return rec, nil
}

func (s *MemoryStore) ListByStudent(_ context.Context, studentID string, q Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.StudentID != studentID {
			continue
		}
		if (q.From != "" && rec.Date < q.From) || (q.To != "" && rec.Date > q.To) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByPeriod(_ context.Context, class timetable.ClassKey, date string, periodNumber int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Class == class && rec.Date == date && rec.PeriodNumber == periodNumber {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *MemoryStore) StudentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for k := range s.records {
		if !seen[k.StudentID] {
			seen[k.StudentID] = true
			ids = append(ids, k.StudentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date != recs[j].Date {
			return recs[i].Date < recs[j].Date
		}
		return recs[i].PeriodNumber < recs[j].PeriodNumber
	})
}
