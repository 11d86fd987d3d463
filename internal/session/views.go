package session

import (
	"context"
	"sort"
	"time"

	"attendance/internal/apperr"
	"attendance/internal/attendance"
	"attendance/internal/timetable"
)

// StatusView is a student's live state. Session is nil when no session exists today.
type StatusView struct {
	StudentID      string           `json:"student_id"`
	Active         bool             `json:"active"`
	Session        *Session         `json:"session,omitempty"`
	Today          TodaySummary     `json:"today"`
	CurrentLecture *LecturePresence `json:"current_lecture,omitempty"`
	Timer          *TimerState      `json:"timer,omitempty"`
}

// GetStatus reports today's session with minutes credited up to now. Nothing is persisted.
func (m *Manager) GetStatus(ctx context.Context, studentID string) (StatusView, error) {
	if studentID == "" {
		return StatusView{}, apperr.Malformed("student id required")
	}
	now := m.now()
	view := StatusView{StudentID: studentID}
	cur, err := m.loadToday(ctx, studentID, now)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return view, nil
		}
		return StatusView{}, err
	}
	s := cur.Clone()
	s.Timer.advance(now)
	m.refresh(&s, now, now)
	view.Active = s.IsActive
	view.Session = &s
	view.Today = s.Today()
	view.Timer = &s.Timer

	if p, ok, err := m.timetables.CurrentPeriod(ctx, s.Class, now); err != nil {
		return StatusView{}, err
	} else if ok {
		if l, ok := s.Lecture(p.PeriodNumber); ok {
			view.CurrentLecture = l
		}
	}
	return view, nil
}

// GetHistory returns the student's records between from and to (inclusive dates, either may be empty).
func (m *Manager) GetHistory(ctx context.Context, studentID, from, to string, limit int) ([]attendance.DayHistory, error) {
	if studentID == "" {
		return nil, apperr.Malformed("student id required")
	}
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(attendance.DateLayout, d); err != nil {
			return nil, apperr.Malformed("invalid date %q, want YYYY-MM-DD", d)
		}
	}
	if from != "" && to != "" && from > to {
		return nil, apperr.Malformed("from %s is after to %s", from, to)
	}
	recs, err := m.recorder.Records(ctx, studentID, attendance.Query{From: from, To: to, Limit: limit})
	if err != nil {
		return nil, err
	}
	return attendance.GroupByDate(recs), nil
}

// GetCalendarMonth classifies every day of the month for the student.
func (m *Manager) GetCalendarMonth(ctx context.Context, studentID string, year, month int) ([]attendance.CalendarDay, error) {
	if studentID == "" {
		return nil, apperr.Malformed("student id required")
	}
	if month < 1 || month > 12 || year < 2000 || year > 2100 {
		return nil, apperr.Malformed("invalid month %d-%d", year, month)
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	recs, err := m.recorder.Records(ctx, studentID, attendance.Query{
		From: first.Format(attendance.DateLayout),
		To:   last.Format(attendance.DateLayout),
	})
	if err != nil {
		return nil, err
	}

	now := m.now()
	in := attendance.CalendarInput{Year: year, Month: time.Month(month), Today: m.dateOf(now), Records: recs}
	var (
		class    timetable.ClassKey
		hasClass bool
	)
	sess, err := m.store.Get(ctx, studentID)
	if err != nil {
		m.metrics.Failure("session_get")
		return nil, apperr.Persistence("load session", err)
	}
	if sess != nil {
		class, hasClass = sess.Class, true
		if sess.IsActive && sess.Date == in.Today {
			in.ActiveDate = sess.Date
		}
	} else if len(recs) > 0 {
		class, hasClass = recs[len(recs)-1].Class, true
	}
	if hasClass {
		t, err := m.timetables.Timetable(ctx, class)
		if err != nil {
			return nil, err
		}
		if t != nil {
			in.Totals = make(map[timetable.Day]int)
			for _, d := range []timetable.Day{timetable.Monday, timetable.Tuesday, timetable.Wednesday, timetable.Thursday, timetable.Friday, timetable.Saturday} {
				in.Totals[d] = len(t.PeriodsForDay(d))
			}
		}
	}
	return attendance.BuildCalendar(in), nil
}

// ListActive returns today's active sessions, most recently active first.
// Empty branch or semester match any.
func (m *Manager) ListActive(ctx context.Context, branch, semester string) ([]Session, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		m.metrics.Failure("session_list")
		return nil, apperr.Persistence("list sessions", err)
	}
	today := m.dateOf(m.now())
	var out []Session
	for _, s := range all {
		if !s.IsActive || s.Date != today {
			continue
		}
		if (branch != "" && s.Class.Branch != branch) || (semester != "" && s.Class.Semester != semester) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// StudentPresence is one student's standing in a lecture.
type StudentPresence struct {
	StudentID         string        `json:"student_id"`
	StudentName       string        `json:"student_name,omitempty"`
	Status            LectureStatus `json:"status"`
	MinutesAttended   int           `json:"minutes_attended"`
	AttendancePercent int           `json:"attendance_percent"`
	Connected         bool          `json:"connected"`
}

// TeacherLecture is what a teacher sees for the lecture they are giving now.
type TeacherLecture struct {
	Active   bool                       `json:"active"`
	Class    timetable.ClassKey         `json:"class"`
	Period   *timetable.ScheduledPeriod `json:"period,omitempty"`
	Students []StudentPresence          `json:"students"`
}

// CurrentLecture finds the teacher's running lecture and the live presence of its class.
// Students with a stored record but no session today appear with the record's outcome.
func (m *Manager) CurrentLecture(ctx context.Context, teacherID string) (TeacherLecture, error) {
	if teacherID == "" {
		return TeacherLecture{}, apperr.Malformed("teacher id required")
	}
	now := m.now()
	period, class, ok, err := m.timetables.TeacherPeriod(ctx, teacherID, now)
	if err != nil {
		return TeacherLecture{}, err
	}
	if !ok {
		return TeacherLecture{Students: []StudentPresence{}}, nil
	}
	view := TeacherLecture{Active: true, Class: class, Period: &period, Students: []StudentPresence{}}

	all, err := m.store.List(ctx)
	if err != nil {
		m.metrics.Failure("session_list")
		return TeacherLecture{}, apperr.Persistence("list sessions", err)
	}
	today := m.dateOf(now)
	seen := make(map[string]bool)
	for _, s := range all {
		if s.Date != today || s.Class != class {
			continue
		}
		s.Timer.advance(now)
		m.refresh(&s, now, now)
		l, ok := s.Lecture(period.PeriodNumber)
		if !ok {
			continue
		}
		seen[s.StudentID] = true
		view.Students = append(view.Students, StudentPresence{
			StudentID:         s.StudentID,
			StudentName:       s.StudentName,
			Status:            l.Status,
			MinutesAttended:   l.MinutesAttended,
			AttendancePercent: l.AttendancePercent,
			Connected:         s.IsActive && !s.Paused(),
		})
	}
	rep, err := m.recorder.PeriodReport(ctx, class, today, period.PeriodNumber)
	if err != nil {
		return TeacherLecture{}, err
	}
	for _, rec := range rep.Records {
		if seen[rec.StudentID] {
			continue
		}
		view.Students = append(view.Students, StudentPresence{
			StudentID:       rec.StudentID,
			Status:          lectureStatusOf(rec.Status),
			MinutesAttended: rec.DurationMinutes,
		})
	}
	sort.Slice(view.Students, func(i, j int) bool { return view.Students[i].StudentID < view.Students[j].StudentID })
	return view, nil
}

// AttachConnection records the live connection id on today's session. Without a session it is a no-op.
func (m *Manager) AttachConnection(ctx context.Context, studentID, connID string) error {
	if studentID == "" {
		return apperr.Malformed("student id required")
	}
	unlock, err := m.lock(ctx, studentID)
	if err != nil {
		return err
	}
	defer unlock()
	cur, err := m.loadToday(ctx, studentID, m.now())
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if cur.SocketID == connID {
		return nil
	}
	next := cur.Clone()
	next.SocketID = connID
	return m.save(ctx, next)
}

// DetachConnection clears the connection id if it is still the session's current one.
// Losing the current connection pauses presence like Disconnect.
func (m *Manager) DetachConnection(ctx context.Context, studentID, connID string) error {
	if studentID == "" {
		return apperr.Malformed("student id required")
	}
	unlock, err := m.lock(ctx, studentID)
	if err != nil {
		return err
	}
	defer unlock()
	now := m.now()
	cur, err := m.loadToday(ctx, studentID, now)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if cur.SocketID != connID {
		return nil
	}
	next := cur.Clone()
	next.SocketID = ""
	if !next.IsActive || next.Paused() {
		return m.save(ctx, next)
	}
	_, err = m.pauseSession(ctx, next, now)
	return err
}
