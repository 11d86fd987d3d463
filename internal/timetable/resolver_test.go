package timetable

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendance/internal/apperr"
)

var cse3 = ClassKey{Branch: "CSE", Semester: "3", Section: "A"}

// 2024-01-01 is a Monday.
func monday(hh, mm int) time.Time {
	return time.Date(2024, 1, 1, hh, mm, 0, 0, time.UTC)
}

func sampleTimetable() Timetable {
	return Timetable{
		Class:        cse3,
		AcademicYear: "2023-2024",
		Periods: []ScheduledPeriod{
			{Day: Monday, PeriodNumber: 1, StartTime: "09:40", EndTime: "10:40", Subject: "Math", TeacherID: "T1", Room: "A102", Kind: KindLecture},
			{Day: Monday, PeriodNumber: 2, StartTime: "10:40", EndTime: "11:40", Subject: "Physics", TeacherID: "T2", Room: "A103", Kind: KindLecture},
			{Day: Monday, PeriodNumber: 3, StartTime: "11:40", EndTime: "12:10", Subject: "Lunch", Kind: KindBreak},
			{Day: Monday, PeriodNumber: 4, StartTime: "12:10", EndTime: "13:10", Subject: "DS Lab", TeacherID: "T1", Room: "L1", Kind: KindLab},
			{Day: Tuesday, PeriodNumber: 1, StartTime: "09:40", EndTime: "10:40", Subject: "Chemistry", TeacherID: "T3", Room: "B201", Kind: KindLecture},
		},
	}
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Replace(context.Background(), sampleTimetable()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewResolver(store, time.UTC)
}

func TestCurrentPeriod(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		at      time.Time
		wantOK  bool
		wantNum int
	}{
		{"inside period 1", monday(10, 0), true, 1},
		{"start is inclusive", monday(9, 40), true, 1},
		{"end is exclusive", monday(10, 40), true, 2},
		{"after last lecture", monday(13, 30), false, 0},
		{"break is never current", monday(11, 50), false, 0},
		{"before college", monday(8, 0), false, 0},
		{"sunday", monday(10, 0).AddDate(0, 0, 6), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok, err := r.CurrentPeriod(ctx, cse3, tt.at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && p.PeriodNumber != tt.wantNum {
				t.Fatalf("period = %d, want %d", p.PeriodNumber, tt.wantNum)
			}
		})
	}
}

func TestCurrentPeriodMathScenario(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Replace(context.Background(), Timetable{Class: cse3, Periods: []ScheduledPeriod{
		{Day: Monday, PeriodNumber: 1, StartTime: "09:40", EndTime: "10:40", Subject: "Math", Room: "A102", Kind: KindLecture},
	}})
	r := NewResolver(store, time.UTC)

	p, ok, _ := r.CurrentPeriod(context.Background(), cse3, monday(10, 0))
	if !ok || p.PeriodNumber != 1 || p.Subject != "Math" {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
	if _, ok, _ := r.CurrentPeriod(context.Background(), cse3, monday(11, 0)); ok {
		t.Fatalf("expected no period at 11:00")
	}
}

func TestCurrentPeriodUsesResolverLocation(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Replace(context.Background(), sampleTimetable())
	ist := time.FixedZone("IST", 5*3600+1800)
	r := NewResolver(store, ist)

	// 04:30 UTC is 10:00 IST.
	p, ok, _ := r.CurrentPeriod(context.Background(), cse3, time.Date(2024, 1, 1, 4, 30, 0, 0, time.UTC))
	if !ok || p.PeriodNumber != 1 {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestFirstOverlappingEntryWins(t *testing.T) {
	tt := Timetable{Class: cse3, Periods: []ScheduledPeriod{
		{Day: Monday, PeriodNumber: 7, StartTime: "09:00", EndTime: "10:00", Subject: "A", Kind: KindLecture},
		{Day: Monday, PeriodNumber: 8, StartTime: "09:30", EndTime: "10:30", Subject: "B", Kind: KindLecture},
	}}
	p, ok := tt.CurrentPeriod(Monday, 9*60+45)
	if !ok || p.PeriodNumber != 7 {
		t.Fatalf("got %+v", p)
	}
}

func TestNextPeriod(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	p, ok, _ := r.NextPeriod(ctx, cse3, monday(10, 0))
	if !ok || p.PeriodNumber != 2 {
		t.Fatalf("next at 10:00 = %+v ok=%v", p, ok)
	}
	p, ok, _ = r.NextPeriod(ctx, cse3, monday(11, 0))
	if !ok || p.PeriodNumber != 4 {
		t.Fatalf("next at 11:00 should skip the break, got %+v", p)
	}
	if _, ok, _ := r.NextPeriod(ctx, cse3, monday(12, 30)); ok {
		t.Fatalf("no more periods today expected")
	}
}

func TestPeriodsForDay(t *testing.T) {
	r := newTestResolver(t)
	periods, err := r.PeriodsForDay(context.Background(), cse3, Monday)
	if err != nil {
		t.Fatal(err)
	}
	var nums []int
	for _, p := range periods {
		nums = append(nums, p.PeriodNumber)
	}
	if len(nums) != 3 || nums[0] != 1 || nums[1] != 2 || nums[2] != 4 {
		t.Fatalf("periods = %v", nums)
	}
}

func TestMissingTimetableIsNotAnError(t *testing.T) {
	r := NewResolver(NewMemoryStore(), time.UTC)
	_, ok, err := r.CurrentPeriod(context.Background(), cse3, monday(10, 0))
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	periods, err := r.PeriodsForDay(context.Background(), cse3, Monday)
	if err != nil || len(periods) != 0 {
		t.Fatalf("periods=%v err=%v", periods, err)
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) Find(context.Context, ClassKey) (*Timetable, error) {
	return nil, errors.New("db down")
}

func TestStoreFailureIsPersistenceError(t *testing.T) {
	r := NewResolver(&failingStore{}, time.UTC)
	_, _, err := r.CurrentPeriod(context.Background(), cse3, monday(10, 0))
	if !apperr.Is(err, apperr.KindPersistence) {
		t.Fatalf("err = %v", err)
	}
}

func TestTeacherPeriod(t *testing.T) {
	r := newTestResolver(t)
	p, class, ok, err := r.TeacherPeriod(context.Background(), "T1", monday(12, 30))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if p.PeriodNumber != 4 || class != cse3 {
		t.Fatalf("got %+v in %v", p, class)
	}
	if _, _, ok, _ := r.TeacherPeriod(context.Background(), "T2", monday(12, 30)); ok {
		t.Fatalf("T2 is free at 12:30")
	}
}

func TestReplaceValidates(t *testing.T) {
	r := NewResolver(NewMemoryStore(), time.UTC)
	bad := []Timetable{
		{Class: ClassKey{Branch: "CSE"}},
		{Class: cse3, Periods: []ScheduledPeriod{{Day: Sunday, PeriodNumber: 1, StartTime: "09:00", EndTime: "10:00", Subject: "X"}}},
		{Class: cse3, Periods: []ScheduledPeriod{{Day: Monday, PeriodNumber: 0, StartTime: "09:00", EndTime: "10:00", Subject: "X"}}},
		{Class: cse3, Periods: []ScheduledPeriod{{Day: Monday, PeriodNumber: 1, StartTime: "10:00", EndTime: "09:00", Subject: "X"}}},
		{Class: cse3, Periods: []ScheduledPeriod{{Day: Monday, PeriodNumber: 1, StartTime: "9:00", EndTime: "10:00", Subject: "X"}}},
		{Class: cse3, Periods: []ScheduledPeriod{{Day: Monday, PeriodNumber: 1, StartTime: "09:00", EndTime: "10:00", Subject: "X", Kind: "seminar"}}},
	}
	for i, tt := range bad {
		if err := r.Replace(context.Background(), tt); !apperr.Is(err, apperr.KindMalformedInput) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}

	good := Timetable{Class: ClassKey{Branch: "ECE", Semester: "1"}, Periods: []ScheduledPeriod{
		{Day: Monday, PeriodNumber: 1, StartTime: "09:00", EndTime: "10:00", Subject: "X"},
	}}
	if err := r.Replace(context.Background(), good); err != nil {
		t.Fatalf("replace: %v", err)
	}
	stored, _ := r.Timetable(context.Background(), ClassKey{Branch: "ECE", Semester: "1"})
	if stored == nil || stored.Class.Section != "A" || stored.Periods[0].Kind != KindLecture || stored.AcademicYear == "" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestAcademicYear(t *testing.T) {
	if got := AcademicYear(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)); got != "2024-2025" {
		t.Errorf("got %s", got)
	}
	if got := AcademicYear(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)); got != "2024-2025" {
		t.Errorf("got %s", got)
	}
}
