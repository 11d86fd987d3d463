package timetable

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Day is a lowercase weekday name.
type Day string

const (
	Sunday    Day = "sunday"
	Monday    Day = "monday"
	Tuesday   Day = "tuesday"
	Wednesday Day = "wednesday"
	Thursday  Day = "thursday"
	Friday    Day = "friday"
	Saturday  Day = "saturday"
)

var weekdays = [...]Day{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// DayOf returns the weekday of t in t's location.
func DayOf(t time.Time) Day { return weekdays[t.Weekday()] }

// Schedulable reports whether periods may be scheduled on d.
func (d Day) Schedulable() bool {
	switch d {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday:
		return true
	}
	return false
}

// Kind tags a scheduled slot.
type Kind string

const (
	KindLecture  Kind = "lecture"
	KindLab      Kind = "lab"
	KindTutorial Kind = "tutorial"
	KindBreak    Kind = "break"
)

func (k Kind) valid() bool {
	switch k {
	case KindLecture, KindLab, KindTutorial, KindBreak:
		return true
	}
	return false
}

// ClassKey identifies the cohort a timetable belongs to.
type ClassKey struct {
	Branch   string `json:"branch" validate:"required"`
	Semester string `json:"semester" validate:"required"`
	Section  string `json:"section"`
}

// Normalize applies the default section.
func (c ClassKey) Normalize() ClassKey {
	if c.Section == "" {
		c.Section = "A"
	}
	return c
}

func (c ClassKey) String() string {
	return c.Branch + "/" + c.Semester + "/" + c.Section
}

// ScheduledPeriod is one slot of the weekly schedule. Times are "HH:MM" on a 24h local clock.
type ScheduledPeriod struct {
	Day          Day    `json:"day_of_week"`
	PeriodNumber int    `json:"period_number"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Subject      string `json:"subject"`
	TeacherID    string `json:"teacher_id"`
	Room         string `json:"room"`
	Kind         Kind   `json:"kind"`
}

// StartMinute returns the start as minutes after midnight.
func (p ScheduledPeriod) StartMinute() int { m, _ := ParseClock(p.StartTime); return m }

// EndMinute returns the end as minutes after midnight.
func (p ScheduledPeriod) EndMinute() int { m, _ := ParseClock(p.EndTime); return m }

// Duration is the length of the period.
func (p ScheduledPeriod) Duration() time.Duration {
	return time.Duration(p.EndMinute()-p.StartMinute()) * time.Minute
}

// IsBreak reports whether the slot is a break placeholder.
func (p ScheduledPeriod) IsBreak() bool { return p.Kind == KindBreak }

// Window returns the period bounds on the calendar day of date, in date's location.
func (p ScheduledPeriod) Window(date time.Time) (start, end time.Time) {
	y, mo, d := date.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, date.Location())
	return midnight.Add(time.Duration(p.StartMinute()) * time.Minute),
		midnight.Add(time.Duration(p.EndMinute()) * time.Minute)
}

// Validate checks a single period entry.
func (p ScheduledPeriod) Validate() error {
	if !p.Day.Schedulable() {
		return fmt.Errorf("period %d: invalid day %q", p.PeriodNumber, p.Day)
	}
	if p.PeriodNumber < 1 {
		return fmt.Errorf("period number must be >= 1, got %d", p.PeriodNumber)
	}
	start, err := ParseClock(p.StartTime)
	if err != nil {
		return fmt.Errorf("period %d start: %w", p.PeriodNumber, err)
	}
	end, err := ParseClock(p.EndTime)
	if err != nil {
		return fmt.Errorf("period %d end: %w", p.PeriodNumber, err)
	}
	if start >= end {
		return fmt.Errorf("period %d: start %s not before end %s", p.PeriodNumber, p.StartTime, p.EndTime)
	}
	if !p.Kind.valid() {
		return fmt.Errorf("period %d: invalid kind %q", p.PeriodNumber, p.Kind)
	}
	if !p.IsBreak() && p.Subject == "" {
		return fmt.Errorf("period %d: subject required", p.PeriodNumber)
	}
	return nil
}

// Timetable is the weekly schedule of one class. Read-only to the engine.
type Timetable struct {
	Class        ClassKey          `json:"class"`
	AcademicYear string            `json:"academic_year"`
	Periods      []ScheduledPeriod `json:"periods"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Validate checks the identity and every period.
func (t *Timetable) Validate() error {
	if t.Class.Branch == "" || t.Class.Semester == "" {
		return fmt.Errorf("branch and semester required")
	}
	for i := range t.Periods {
		if t.Periods[i].Kind == "" {
			t.Periods[i].Kind = KindLecture
		}
		if err := t.Periods[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CurrentPeriod returns the first non-break period on day whose [start, end) contains minute.
// Overlapping entries are a data error; stored order decides.
func (t *Timetable) CurrentPeriod(day Day, minute int) (ScheduledPeriod, bool) {
	for _, p := range t.Periods {
		if p.Day != day || p.IsBreak() {
			continue
		}
		if minute >= p.StartMinute() && minute < p.EndMinute() {
			return p, true
		}
	}
	return ScheduledPeriod{}, false
}

// NextPeriod returns the earliest non-break period on day starting strictly after minute.
func (t *Timetable) NextPeriod(day Day, minute int) (ScheduledPeriod, bool) {
	var (
		best  ScheduledPeriod
		found bool
	)
	for _, p := range t.Periods {
		if p.Day != day || p.IsBreak() || p.StartMinute() <= minute {
			continue
		}
		if !found || p.StartMinute() < best.StartMinute() {
			best, found = p, true
		}
	}
	return best, found
}

// PeriodsForDay returns the non-break periods of day in schedule order.
func (t *Timetable) PeriodsForDay(day Day) []ScheduledPeriod {
	var out []ScheduledPeriod
	for _, p := range t.Periods {
		if p.Day == day && !p.IsBreak() {
			out = append(out, p)
		}
	}
	return out
}

// Period returns the non-break period with the given number on day.
func (t *Timetable) Period(day Day, number int) (ScheduledPeriod, bool) {
	for _, p := range t.Periods {
		if p.Day == day && p.PeriodNumber == number && !p.IsBreak() {
			return p, true
		}
	}
	return ScheduledPeriod{}, false
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// ClockOf formats t as "HH:MM".
func ClockOf(t time.Time) string { return t.Format("15:04") }

// MinuteOf returns minutes after midnight of t in its own location.
func MinuteOf(t time.Time) int { return t.Hour()*60 + t.Minute() }
