package session

import (
	"math"
	"time"

	"attendance/internal/timetable"
)

// LectureStatus is the live state of one period inside a day session.
type LectureStatus string

const (
	LecturePending   LectureStatus = "pending"
	LectureAttending LectureStatus = "attending"
	LecturePresent   LectureStatus = "present"
	LectureAbsent    LectureStatus = "absent"
)

// Final reports whether the lecture has been decided.
func (s LectureStatus) Final() bool { return s == LecturePresent || s == LectureAbsent }

// LecturePresence tracks a student's presence in one scheduled period of the day.
type LecturePresence struct {
	PeriodNumber      int           `json:"period_number"`
	Subject           string        `json:"subject"`
	TeacherID         string        `json:"teacher_id"`
	Room              string        `json:"room"`
	StartTime         string        `json:"start_time"`
	EndTime           string        `json:"end_time"`
	Status            LectureStatus `json:"status"`
	JoinedAt          *time.Time    `json:"joined_at,omitempty"`
	MinutesAttended   int           `json:"minutes_attended"`
	AttendancePercent int           `json:"attendance_percent"`
	Overridden        bool          `json:"overridden"`
}

// Period rebuilds the scheduled period the lecture was seeded from.
func (l LecturePresence) Period(day timetable.Day) timetable.ScheduledPeriod {
	return timetable.ScheduledPeriod{
		Day:          day,
		PeriodNumber: l.PeriodNumber,
		StartTime:    l.StartTime,
		EndTime:      l.EndTime,
		Subject:      l.Subject,
		TeacherID:    l.TeacherID,
		Room:         l.Room,
		Kind:         timetable.KindLecture,
	}
}

// TimerState is the visible countdown. SecondsRemaining never increases while IsRunning.
type TimerState struct {
	IsRunning        bool      `json:"is_running"`
	SecondsRemaining int       `json:"seconds_remaining"`
	LastUpdated      time.Time `json:"last_updated"`
	// PeriodNumber is the lecture the countdown was armed for; zero when armed outside a period.
	PeriodNumber int `json:"period_number,omitempty"`
}

// advance applies whole seconds elapsed since LastUpdated. It reports whether the timer just hit zero.
func (t *TimerState) advance(now time.Time) bool {
	if !t.IsRunning {
		return false
	}
	elapsed := int(now.Sub(t.LastUpdated) / time.Second)
	if elapsed <= 0 {
		return false
	}
	t.LastUpdated = t.LastUpdated.Add(time.Duration(elapsed) * time.Second)
	t.SecondsRemaining -= elapsed
	if t.SecondsRemaining > 0 {
		return false
	}
	t.SecondsRemaining = 0
	t.IsRunning = false
	return true
}

// Interval is a span of paused presence. A zero To means the pause is still open.
type Interval struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Session is a student's attendance walk for one calendar date.
type Session struct {
	StudentID    string             `json:"student_id"`
	StudentName  string             `json:"student_name"`
	Class        timetable.ClassKey `json:"class"`
	Date         string             `json:"date"`
	DayOfWeek    timetable.Day      `json:"day_of_week"`
	Lectures     []LecturePresence  `json:"lectures"`
	IsActive     bool               `json:"is_active"`
	SocketID     string             `json:"socket_id,omitempty"`
	DeviceID     string             `json:"device_id"`
	BSSID        string             `json:"bssid,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	LastActivity time.Time          `json:"last_activity"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	Timer        TimerState         `json:"timer"`
	Pauses       []Interval         `json:"pauses,omitempty"`

	TotalPresent   int `json:"total_present"`
	TotalAbsent    int `json:"total_absent"`
	OverallPercent int `json:"overall_percent"`
}

// Clone returns a deep copy so a mutation can be discarded when a write fails.
func (s Session) Clone() Session {
	out := s
	out.Lectures = make([]LecturePresence, len(s.Lectures))
	for i, l := range s.Lectures {
		if l.JoinedAt != nil {
			t := *l.JoinedAt
			l.JoinedAt = &t
		}
		out.Lectures[i] = l
	}
	out.Pauses = append([]Interval(nil), s.Pauses...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}

// Paused reports whether presence is currently interrupted.
func (s *Session) Paused() bool {
	return len(s.Pauses) > 0 && s.Pauses[len(s.Pauses)-1].To.IsZero()
}

func (s *Session) pause(at time.Time) {
	if !s.Paused() {
		s.Pauses = append(s.Pauses, Interval{From: at})
	}
}

func (s *Session) resume(at time.Time) {
	if s.Paused() {
		s.Pauses[len(s.Pauses)-1].To = at
	}
}

// Lecture returns the lecture with the given period number.
func (s *Session) Lecture(periodNumber int) (*LecturePresence, bool) {
	for i := range s.Lectures {
		if s.Lectures[i].PeriodNumber == periodNumber {
			return &s.Lectures[i], true
		}
	}
	return nil, false
}

// presentBetween is the connected time in [from, to): after StartedAt and outside every pause.
func (s *Session) presentBetween(from, to time.Time) time.Duration {
	if from.Before(s.StartedAt) {
		from = s.StartedAt
	}
	if !to.After(from) {
		return 0
	}
	total := to.Sub(from)
	for _, p := range s.Pauses {
		pEnd := p.To
		if pEnd.IsZero() || pEnd.After(to) {
			pEnd = to
		}
		pStart := p.From
		if pStart.Before(from) {
			pStart = from
		}
		if pEnd.After(pStart) {
			total -= pEnd.Sub(pStart)
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// rollup refreshes the day counters from lecture statuses.
func (s *Session) rollup() {
	s.TotalPresent, s.TotalAbsent = 0, 0
	for _, l := range s.Lectures {
		switch l.Status {
		case LecturePresent:
			s.TotalPresent++
		case LectureAbsent:
			s.TotalAbsent++
		}
	}
	s.OverallPercent = 0
	if n := len(s.Lectures); n > 0 {
		s.OverallPercent = int(math.Round(float64(s.TotalPresent) / float64(n) * 100))
	}
}

// TodaySummary is the day rollup reported with a session status.
type TodaySummary struct {
	TotalPeriods         int `json:"total_periods"`
	PeriodsPresent       int `json:"periods_present"`
	PeriodsAbsent        int `json:"periods_absent"`
	AttendancePercentage int `json:"attendance_percentage"`
}

// Today summarizes the session; periods not yet present count as absent.
func (s *Session) Today() TodaySummary {
	sum := TodaySummary{TotalPeriods: len(s.Lectures), PeriodsPresent: s.TotalPresent}
	sum.PeriodsAbsent = sum.TotalPeriods - sum.PeriodsPresent
	sum.AttendancePercentage = s.OverallPercent
	return sum
}
