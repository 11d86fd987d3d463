package timetable

import (
	"context"
	"fmt"
	"time"

	"attendance/internal/apperr"
)

// Store persists timetables. Find returns nil, nil when no timetable exists for the class.
type Store interface {
	Find(ctx context.Context, class ClassKey) (*Timetable, error)
	FindByTeacher(ctx context.Context, teacherID string) ([]Timetable, error)
	Replace(ctx context.Context, t Timetable) error
}

// Resolver answers "which period is on now" questions. It holds no mutable state.
// Missing timetables or periods are reported as ok == false; errors only mean the store failed.
type Resolver struct {
	store Store
	loc   *time.Location
}

// NewResolver creates a resolver that evaluates instants in loc.
func NewResolver(store Store, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{store: store, loc: loc}
}

// Location is the local clock timetables are written in.
func (r *Resolver) Location() *time.Location { return r.loc }

// Timetable returns the class timetable, nil when none exists.
func (r *Resolver) Timetable(ctx context.Context, class ClassKey) (*Timetable, error) {
	t, err := r.store.Find(ctx, class.Normalize())
	if err != nil {
		return nil, apperr.Persistence("load timetable", err)
	}
	return t, nil
}

// CurrentPeriod returns the period active at the instant.
func (r *Resolver) CurrentPeriod(ctx context.Context, class ClassKey, at time.Time) (ScheduledPeriod, bool, error) {
	t, err := r.Timetable(ctx, class)
	if err != nil || t == nil {
		return ScheduledPeriod{}, false, err
	}
	local := at.In(r.loc)
	p, ok := t.CurrentPeriod(DayOf(local), MinuteOf(local))
	return p, ok, nil
}

// NextPeriod returns the next period later the same day. No look-ahead to following days.
func (r *Resolver) NextPeriod(ctx context.Context, class ClassKey, at time.Time) (ScheduledPeriod, bool, error) {
	t, err := r.Timetable(ctx, class)
	if err != nil || t == nil {
		return ScheduledPeriod{}, false, err
	}
	local := at.In(r.loc)
	p, ok := t.NextPeriod(DayOf(local), MinuteOf(local))
	return p, ok, nil
}

// PeriodsForDay returns the non-break periods of the given day in schedule order.
func (r *Resolver) PeriodsForDay(ctx context.Context, class ClassKey, day Day) ([]ScheduledPeriod, error) {
	t, err := r.Timetable(ctx, class)
	if err != nil || t == nil {
		return nil, err
	}
	return t.PeriodsForDay(day), nil
}

// IsCollegeHours reports whether any period is running at the instant.
func (r *Resolver) IsCollegeHours(ctx context.Context, class ClassKey, at time.Time) (bool, error) {
	_, ok, err := r.CurrentPeriod(ctx, class, at)
	return ok, err
}

// TeacherPeriod finds the period the teacher is teaching at the instant, across all timetables.
func (r *Resolver) TeacherPeriod(ctx context.Context, teacherID string, at time.Time) (ScheduledPeriod, ClassKey, bool, error) {
	tables, err := r.store.FindByTeacher(ctx, teacherID)
	if err != nil {
		return ScheduledPeriod{}, ClassKey{}, false, apperr.Persistence("load teacher timetables", err)
	}
	local := at.In(r.loc)
	day, minute := DayOf(local), MinuteOf(local)
	for _, t := range tables {
		for _, p := range t.Periods {
			if p.TeacherID != teacherID || p.Day != day || p.IsBreak() {
				continue
			}
			if minute >= p.StartMinute() && minute < p.EndMinute() {
				return p, t.Class, true, nil
			}
		}
	}
	return ScheduledPeriod{}, ClassKey{}, false, nil
}

// Replace validates and stores a timetable wholesale.
func (r *Resolver) Replace(ctx context.Context, t Timetable) error {
	t.Class = t.Class.Normalize()
	if err := t.Validate(); err != nil {
		return apperr.Malformed("invalid timetable: %v", err)
	}
	if t.AcademicYear == "" {
		t.AcademicYear = AcademicYear(time.Now().In(r.loc))
	}
	t.UpdatedAt = time.Now().UTC()
	if err := r.store.Replace(ctx, t); err != nil {
		return apperr.Persistence("replace timetable", err)
	}
	return nil
}

// AcademicYear formats the academic year containing t, starting in July ("2024-2025").
func AcademicYear(t time.Time) string {
	y := t.Year()
	if t.Month() < time.July {
		y--
	}
	return fmt.Sprintf("%d-%d", y, y+1)
}
