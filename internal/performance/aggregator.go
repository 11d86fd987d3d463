package performance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"attendance/internal/apperr"
	"attendance/internal/attendance"
)

// Store persists summaries. Find returns nil, nil when none is cached.
type Store interface {
	Find(ctx context.Context, studentID string) (*Summary, error)
	Upsert(ctx context.Context, s Summary) error
}

// RecordSource reads the attendance history a summary is derived from.
type RecordSource interface {
	Records(ctx context.Context, studentID string, q attendance.Query) ([]attendance.Record, error)
	StudentIDs(ctx context.Context) ([]string, error)
}

// Aggregator keeps performance summaries in step with attendance records.
type Aggregator struct {
	records RecordSource
	store   Store
	log     *zap.Logger
	now     func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(records RecordSource, store Store, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{records: records, store: store, log: log, now: time.Now}
}

// Recalculate rebuilds the student's summary from the full record set.
// It returns nil when the student has no records.
func (a *Aggregator) Recalculate(ctx context.Context, studentID string) (*Summary, error) {
	recs, err := a.records.Records(ctx, studentID, attendance.Query{})
	if err != nil {
		return nil, err
	}
	sum := Compute(studentID, recs, a.now().UTC())
	if sum == nil {
		return nil, nil
	}
	if err := a.store.Upsert(ctx, *sum); err != nil {
		return nil, apperr.Persistence("save performance summary", err)
	}
	return sum, nil
}

// Get returns the cached summary, computing it when absent. Nil means no history.
func (a *Aggregator) Get(ctx context.Context, studentID string) (*Summary, error) {
	if studentID == "" {
		return nil, apperr.Malformed("student id required")
	}
	sum, err := a.store.Find(ctx, studentID)
	if err != nil {
		return nil, apperr.Persistence("load performance summary", err)
	}
	if sum != nil {
		return sum, nil
	}
	return a.Recalculate(ctx, studentID)
}

// RebuildAll recalculates every student with records and returns how many were rebuilt.
func (a *Aggregator) RebuildAll(ctx context.Context) (int, error) {
	ids, err := a.records.StudentIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := a.Recalculate(ctx, id); err != nil {
			a.log.Error("rebuild summary failed", zap.String("student_id", id), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// RecordWritten recomputes after an attendance write. Failures are logged; the write already succeeded.
func (a *Aggregator) RecordWritten(ctx context.Context, rec attendance.Record) {
	if _, err := a.Recalculate(ctx, rec.StudentID); err != nil {
		a.log.Warn("performance recompute failed", zap.String("student_id", rec.StudentID), zap.Error(err))
	}
}
