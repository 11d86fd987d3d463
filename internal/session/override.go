package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"attendance/internal/apperr"
	"attendance/internal/attendance"
	"attendance/internal/timetable"
)

// OverrideRequest is a teacher's manual correction of one period record.
type OverrideRequest struct {
	TeacherID    string            `json:"teacher_id" validate:"required"`
	StudentID    string            `json:"student_id" validate:"required"`
	PeriodNumber int               `json:"period_number" validate:"required,min=1"`
	Status       attendance.Status `json:"status" validate:"required,oneof=present absent late excused"`
	// Date is the record date; empty means today.
	Date string `json:"date"`
	// Class is needed only when the student has no session or record to take it from.
	Class *timetable.ClassKey `json:"class,omitempty"`
}

// TeacherOverride sets a period record directly, bypassing timer logic. The record is marked
// by the teacher, which later student or system marks cannot change.
func (m *Manager) TeacherOverride(ctx context.Context, req OverrideRequest) (attendance.Record, error) {
	if err := m.validate.Struct(req); err != nil {
		return attendance.Record{}, apperr.Malformed("invalid override: %v", err)
	}
	now := m.now()
	date := m.dateOf(now)
	if req.Date != "" {
		date = req.Date
	}
	day, err := time.ParseInLocation(attendance.DateLayout, date, m.loc())
	if err != nil {
		return attendance.Record{}, apperr.Malformed("invalid date %q", req.Date)
	}

	unlock, err := m.lock(ctx, req.StudentID)
	if err != nil {
		return attendance.Record{}, err
	}
	defer unlock()

	sess, err := m.store.Get(ctx, req.StudentID)
	if err != nil {
		m.metrics.Failure("session_get")
		return attendance.Record{}, apperr.Persistence("load session", err)
	}
	existing, err := m.recorder.Find(ctx, attendance.Key{StudentID: req.StudentID, Date: date, PeriodNumber: req.PeriodNumber})
	if err != nil {
		return attendance.Record{}, err
	}

	var class timetable.ClassKey
	switch {
	case req.Class != nil:
		class = req.Class.Normalize()
	case sess != nil:
		class = sess.Class
	case existing != nil:
		class = existing.Class
	default:
		return attendance.Record{}, apperr.Malformed("class required for student %s", req.StudentID)
	}

	period, err := m.overridePeriod(ctx, sess, existing, class, day, date, req.PeriodNumber)
	if err != nil {
		return attendance.Record{}, err
	}
	start, _ := period.Window(day)
	rec, err := m.recorder.MarkPeriodAttendance(ctx, attendance.Mark{
		StudentID: req.StudentID,
		Date:      start,
		Class:     class,
		Period:    period,
		Status:    req.Status,
		MarkedBy:  attendance.ByTeacher,
		ActorID:   req.TeacherID,
		At:        now,
	})
	if err != nil {
		m.metrics.Failure("record_mark")
		return attendance.Record{}, err
	}

	if sess != nil && sess.Date == date {
		next := sess.Clone()
		if l, ok := next.Lecture(req.PeriodNumber); ok {
			l.Overridden = true
			l.Status = lectureStatusOf(rec.Status)
			next.rollup()
			if err := m.save(ctx, next); err != nil {
				return attendance.Record{}, err
			}
			m.publishUpdate(ctx, &next, []LecturePresence{*l})
		}
	}
	m.metrics.Event("teacher-override")
	m.log.Info("teacher override",
		zap.String("teacher_id", req.TeacherID), zap.String("student_id", req.StudentID),
		zap.String("date", date), zap.Int("period", req.PeriodNumber), zap.String("status", string(rec.Status)))
	return rec, nil
}

// overridePeriod finds the period descriptor: the live session first, then the stored record,
// then the timetable.
func (m *Manager) overridePeriod(ctx context.Context, sess *Session, existing *attendance.Record, class timetable.ClassKey, day time.Time, date string, number int) (timetable.ScheduledPeriod, error) {
	if sess != nil && sess.Date == date {
		if l, ok := sess.Lecture(number); ok {
			return l.Period(sess.DayOfWeek), nil
		}
	}
	if existing != nil {
		return timetable.ScheduledPeriod{
			Day:          existing.DayOfWeek,
			PeriodNumber: existing.PeriodNumber,
			StartTime:    existing.StartTime,
			EndTime:      existing.EndTime,
			Subject:      existing.Subject,
			TeacherID:    existing.TeacherID,
			Room:         existing.Room,
			Kind:         timetable.KindLecture,
		}, nil
	}
	t, err := m.timetables.Timetable(ctx, class)
	if err != nil {
		return timetable.ScheduledPeriod{}, err
	}
	if t != nil {
		if p, ok := t.Period(timetable.DayOf(day), number); ok {
			return p, nil
		}
	}
	return timetable.ScheduledPeriod{}, apperr.NotFound("period %d is not scheduled for %s on %s", number, class, date)
}
