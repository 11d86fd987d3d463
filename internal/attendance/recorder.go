package attendance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance/internal/apperr"
	"attendance/internal/timetable"
)

// Store persists attendance records. Find returns nil, nil when the record does not exist.
type Store interface {
	Find(ctx context.Context, key Key) (*Record, error)
	Upsert(ctx context.Context, rec Record) (Record, error)
	ListByStudent(ctx context.Context, studentID string, q Query) ([]Record, error)
	ListByPeriod(ctx context.Context, class timetable.ClassKey, date string, periodNumber int) ([]Record, error)
	StudentIDs(ctx context.Context) ([]string, error)
}

// Query filters a student's records. Empty bounds are open; dates are inclusive.
type Query struct {
	From  string
	To    string
	Limit int
}

// WriteHook runs after every persisted attendance mutation, in the writer's goroutine.
type WriteHook interface {
	RecordWritten(ctx context.Context, rec Record)
}

// Mark describes one attendance mark for a scheduled period.
type Mark struct {
	StudentID string    `validate:"required"`
	Date      time.Time `validate:"required"`
	Class     timetable.ClassKey
	Period    timetable.ScheduledPeriod
	Status    Status   `validate:"required,oneof=present absent late excused"`
	MarkedBy  MarkedBy `validate:"required,oneof=student teacher system"`
	ActorID   string
	At        time.Time
	CheckIn   *time.Time
	CheckOut  *time.Time
	Minutes   int
}

// Recorder owns attendance records: one per (student, date, period), upserted in place.
type Recorder struct {
	store    Store
	hooks    []WriteHook
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder over store. Hooks run synchronously after each write.
func NewRecorder(store Store, log *zap.Logger, hooks ...WriteHook) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		store:    store,
		hooks:    hooks,
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}
}

// AddHook registers another post-write hook.
func (r *Recorder) AddHook(h WriteHook) { r.hooks = append(r.hooks, h) }

// MarkPeriodAttendance upserts the record for (student, date, period).
// A repeated identical mark leaves the record untouched. A teacher mark is terminal:
// later student or system marks return the teacher's record unchanged.
func (r *Recorder) MarkPeriodAttendance(ctx context.Context, m Mark) (Record, error) {
	if err := r.validate.Struct(m); err != nil {
		return Record{}, apperr.Malformed("invalid attendance mark: %v", err)
	}
	if m.Period.PeriodNumber < 1 {
		return Record{}, apperr.Malformed("period number must be >= 1")
	}
	if m.At.IsZero() {
		m.At = r.now()
	}
	date := m.Date.Format(DateLayout)
	key := Key{StudentID: m.StudentID, Date: date, PeriodNumber: m.Period.PeriodNumber}

	existing, err := r.store.Find(ctx, key)
	if err != nil {
		return Record{}, apperr.Persistence("load attendance record", err)
	}

	var rec Record
	if existing == nil {
		rec = Record{
			ID:           uuid.NewString(),
			StudentID:    m.StudentID,
			Date:         date,
			DayOfWeek:    timetable.DayOf(m.Date),
			PeriodNumber: m.Period.PeriodNumber,
			Class:        m.Class.Normalize(),
			Subject:      m.Period.Subject,
			TeacherID:    m.Period.TeacherID,
			Room:         m.Period.Room,
			StartTime:    m.Period.StartTime,
			EndTime:      m.Period.EndTime,
			AcademicYear: timetable.AcademicYear(m.Date),
		}
	} else {
		if existing.MarkedBy == ByTeacher && m.MarkedBy != ByTeacher {
			return *existing, nil
		}
		if existing.Status == m.Status && existing.MarkedBy == m.MarkedBy {
			return *existing, nil
		}
		rec = *existing
	}

	rec.Status = m.Status
	rec.MarkedBy = m.MarkedBy
	rec.MarkedAt = m.At
	if m.CheckIn != nil && rec.CheckInTime == nil {
		t := *m.CheckIn
		rec.CheckInTime = &t
	}
	if m.CheckOut != nil {
		t := *m.CheckOut
		rec.CheckOutTime = &t
	}
	if m.Minutes > 0 || m.MarkedBy != ByTeacher {
		rec.DurationMinutes = m.Minutes
	}
	if m.MarkedBy == ByTeacher {
		rec.IsVerified = true
		rec.VerifiedBy = m.ActorID
	}

	saved, err := r.store.Upsert(ctx, rec)
	if err != nil {
		r.log.Error("attendance write failed",
			zap.String("student_id", m.StudentID), zap.String("date", date),
			zap.Int("period", m.Period.PeriodNumber), zap.Error(err))
		return Record{}, apperr.Persistence("save attendance record", err)
	}
	r.log.Info("attendance marked",
		zap.String("student_id", saved.StudentID), zap.String("date", saved.Date),
		zap.Int("period", saved.PeriodNumber), zap.String("status", string(saved.Status)),
		zap.String("marked_by", string(saved.MarkedBy)))

	for _, h := range r.hooks {
		h.RecordWritten(ctx, saved)
	}
	return saved, nil
}

// Find returns one record, nil when absent.
func (r *Recorder) Find(ctx context.Context, key Key) (*Record, error) {
	rec, err := r.store.Find(ctx, key)
	if err != nil {
		return nil, apperr.Persistence("load attendance record", err)
	}
	return rec, nil
}

// Records returns the student's records matching q.
func (r *Recorder) Records(ctx context.Context, studentID string, q Query) ([]Record, error) {
	if studentID == "" {
		return nil, apperr.Malformed("student id required")
	}
	recs, err := r.store.ListByStudent(ctx, studentID, q)
	if err != nil {
		return nil, apperr.Persistence("list attendance records", err)
	}
	return recs, nil
}

// StudentIDs lists every student with at least one record.
func (r *Recorder) StudentIDs(ctx context.Context) ([]string, error) {
	ids, err := r.store.StudentIDs(ctx)
	if err != nil {
		return nil, apperr.Persistence("list students", err)
	}
	return ids, nil
}
