package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendance/internal/apperr"
	"attendance/internal/timetable"
)

var (
	cse3   = timetable.ClassKey{Branch: "CSE", Semester: "3", Section: "A"}
	mathP1 = timetable.ScheduledPeriod{Day: timetable.Monday, PeriodNumber: 1, StartTime: "09:40", EndTime: "10:40", Subject: "Math", TeacherID: "T1", Room: "A102", Kind: timetable.KindLecture}
	jan1   = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
)

type countingHook struct{ calls []Record }

func (h *countingHook) RecordWritten(_ context.Context, rec Record) { h.calls = append(h.calls, rec) }

func mark(status Status, by MarkedBy) Mark {
	return Mark{StudentID: "S1", Date: jan1, Class: cse3, Period: mathP1, Status: status, MarkedBy: by, At: jan1}
}

func TestMarkCopiesPeriodDescriptor(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, nil)

	rec, err := r.MarkPeriodAttendance(context.Background(), mark(StatusPresent, BySystem))
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if rec.Subject != "Math" || rec.Room != "A102" || rec.TeacherID != "T1" || rec.StartTime != "09:40" || rec.EndTime != "10:40" {
		t.Fatalf("descriptor not copied: %+v", rec)
	}
	if rec.Date != "2024-01-01" || rec.DayOfWeek != timetable.Monday || rec.AcademicYear != "2023-2024" {
		t.Fatalf("date fields: %+v", rec)
	}
	if rec.ID == "" {
		t.Fatalf("missing id")
	}
}

func TestMarkIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	hook := &countingHook{}
	r := NewRecorder(store, nil, hook)
	ctx := context.Background()

	first, err := r.MarkPeriodAttendance(ctx, mark(StatusPresent, BySystem))
	if err != nil {
		t.Fatal(err)
	}
	again := mark(StatusPresent, BySystem)
	again.At = jan1.Add(5 * time.Minute)
	second, err := r.MarkPeriodAttendance(ctx, again)
	if err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("records = %d, want 1", store.Len())
	}
	if !second.MarkedAt.Equal(first.MarkedAt) || second.ID != first.ID || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("record changed on repeat: %+v vs %+v", first, second)
	}
	if len(hook.calls) != 1 {
		t.Fatalf("hook calls = %d, want 1", len(hook.calls))
	}
}

func TestLaterMarkUpdatesInPlace(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, nil)
	ctx := context.Background()

	_, _ = r.MarkPeriodAttendance(ctx, mark(StatusPresent, ByStudent))
	rec, err := r.MarkPeriodAttendance(ctx, mark(StatusAbsent, BySystem))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusAbsent || rec.MarkedBy != BySystem || store.Len() != 1 {
		t.Fatalf("got %+v len=%d", rec, store.Len())
	}
}

func TestTeacherOverrideIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, nil)
	ctx := context.Background()

	if _, err := r.MarkPeriodAttendance(ctx, mark(StatusAbsent, BySystem)); err != nil {
		t.Fatal(err)
	}
	override := mark(StatusPresent, ByTeacher)
	override.ActorID = "T1"
	rec, err := r.MarkPeriodAttendance(ctx, override)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusPresent || !rec.IsVerified || rec.VerifiedBy != "T1" {
		t.Fatalf("override: %+v", rec)
	}

	for _, by := range []MarkedBy{ByStudent, BySystem} {
		rec, err = r.MarkPeriodAttendance(ctx, mark(StatusAbsent, by))
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != StatusPresent || rec.MarkedBy != ByTeacher {
			t.Fatalf("%s mark flipped teacher override: %+v", by, rec)
		}
	}

	rec, err = r.MarkPeriodAttendance(ctx, mark(StatusExcused, ByTeacher))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusExcused {
		t.Fatalf("re-override ignored: %+v", rec)
	}
}

func TestMarkRejectsMalformedInput(t *testing.T) {
	r := NewRecorder(NewMemoryStore(), nil)
	bad := []Mark{
		func() Mark { m := mark(StatusPresent, BySystem); m.StudentID = ""; return m }(),
		func() Mark { m := mark("maybe", BySystem); return m }(),
		func() Mark { m := mark(StatusPresent, "robot"); return m }(),
		func() Mark { m := mark(StatusPresent, BySystem); m.Period.PeriodNumber = 0; return m }(),
		func() Mark { m := mark(StatusPresent, BySystem); m.Date = time.Time{}; return m }(),
	}
	for i, m := range bad {
		if _, err := r.MarkPeriodAttendance(context.Background(), m); !apperr.Is(err, apperr.KindMalformedInput) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}
}

type brokenStore struct{ *MemoryStore }

func (brokenStore) Upsert(context.Context, Record) (Record, error) {
	return Record{}, errors.New("connection refused")
}

func TestMarkPersistenceFailure(t *testing.T) {
	hook := &countingHook{}
	r := NewRecorder(brokenStore{NewMemoryStore()}, nil, hook)
	_, err := r.MarkPeriodAttendance(context.Background(), mark(StatusPresent, BySystem))
	if !apperr.Is(err, apperr.KindPersistence) {
		t.Fatalf("err = %v", err)
	}
	if len(hook.calls) != 0 {
		t.Fatalf("hook ran after failed write")
	}
}

func TestPeriodReport(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, nil)
	ctx := context.Background()
	for i, st := range []Status{StatusPresent, StatusPresent, StatusAbsent} {
		m := mark(st, BySystem)
		m.StudentID = []string{"S1", "S2", "S3"}[i]
		if _, err := r.MarkPeriodAttendance(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	rep, err := r.PeriodReport(ctx, cse3, "2024-01-01", 1)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != 3 || rep.Present != 2 || rep.Absent != 1 || rep.Percentage != 66.67 {
		t.Fatalf("report = %+v", rep)
	}
	if _, err := r.PeriodReport(ctx, cse3, "", 1); !apperr.Is(err, apperr.KindMalformedInput) {
		t.Fatalf("missing date err = %v", err)
	}
}

func TestGroupByDate(t *testing.T) {
	recs := []Record{
		{Date: "2024-01-01", PeriodNumber: 2, Status: StatusAbsent},
		{Date: "2024-01-02", PeriodNumber: 1, Status: StatusPresent},
		{Date: "2024-01-01", PeriodNumber: 1, Status: StatusPresent},
	}
	days := GroupByDate(recs)
	if len(days) != 2 || days[0].Date != "2024-01-02" {
		t.Fatalf("days = %+v", days)
	}
	first := days[1]
	if first.Records[0].PeriodNumber != 1 || first.Present != 1 || first.Absent != 1 || first.Percentage != 50 {
		t.Fatalf("2024-01-01 = %+v", first)
	}
}
