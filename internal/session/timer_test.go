package session

import (
	"context"
	"testing"
	"time"

	"attendance/internal/attendance"
)

func TestTickCountsDownMonotonically(t *testing.T) {
	e := newEnv(t, jan(1, 9, 45))
	ctx := context.Background()
	e.start(t, "S1", "d1")

	prev := 55 * 60
	for i := 0; i < 40; i++ {
		e.clock.Advance(7*time.Second + 300*time.Millisecond)
		st, err := e.m.Tick(ctx, "S1")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if st.SecondsRemaining > prev {
			t.Fatalf("tick %d: remaining went up %d -> %d", i, prev, st.SecondsRemaining)
		}
		prev = st.SecondsRemaining
	}

	before, _ := e.m.Tick(ctx, "S1")
	again, _ := e.m.Tick(ctx, "S1")
	if again.SecondsRemaining != before.SecondsRemaining {
		t.Fatalf("tick without elapsed time changed the timer: %d -> %d", before.SecondsRemaining, again.SecondsRemaining)
	}
}

func TestTickToZeroCompletesLecture(t *testing.T) {
	e := newEnv(t, jan(1, 9, 45))
	ctx := context.Background()
	e.start(t, "S1", "d1")

	e.clock.Set(jan(1, 10, 40))
	st, err := e.m.Tick(ctx, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if st.IsRunning || st.SecondsRemaining != 0 {
		t.Fatalf("timer = %+v", st)
	}
	rec, _ := e.recorder.Find(ctx, attendance.Key{StudentID: "S1", Date: "2024-01-01", PeriodNumber: 1})
	if rec == nil || rec.Status != attendance.StatusPresent {
		t.Fatalf("record = %+v", rec)
	}
	if l2 := lecture(t, e.stored(t, "S1"), 2); l2.Status.Final() {
		t.Fatalf("lecture 2 finalized by period 1 timer: %+v", l2)
	}

	e.clock.Advance(time.Minute)
	st, err = e.m.Tick(ctx, "S1")
	if err != nil || st.IsRunning {
		t.Fatalf("stopped timer tick: %+v %v", st, err)
	}
	got, err := e.m.GetTimer(ctx, "S1")
	if err != nil || got.SecondsRemaining != 0 {
		t.Fatalf("get timer: %+v %v", got, err)
	}
}

func TestGetTimerDoesNotPersist(t *testing.T) {
	e := newEnv(t, jan(1, 9, 45))
	ctx := context.Background()
	e.start(t, "S1", "d1")

	e.clock.Advance(10 * time.Minute)
	st, err := e.m.GetTimer(ctx, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if st.SecondsRemaining != 45*60 {
		t.Fatalf("remaining = %d", st.SecondsRemaining)
	}
	if stored := e.stored(t, "S1").Timer.SecondsRemaining; stored != 55*60 {
		t.Fatalf("stored remaining = %d", stored)
	}
}

func TestTimerGoroutineFollowsSession(t *testing.T) {
	e := newEnvWith(t, jan(1, 9, 45), Config{TimerTick: time.Hour})
	ctx := context.Background()
	e.start(t, "S1", "d1")
	if !e.m.timerRunning("S1") {
		t.Fatalf("timer not started")
	}

	e.clock.Set(jan(1, 10, 0))
	if _, err := e.m.Disconnect(ctx, "S1"); err != nil {
		t.Fatal(err)
	}
	if e.m.timerRunning("S1") {
		t.Fatalf("timer still running while paused")
	}

	e.clock.Set(jan(1, 10, 5))
	if _, _, err := e.m.Reconnect(ctx, "S1", ""); err != nil {
		t.Fatal(err)
	}
	if !e.m.timerRunning("S1") {
		t.Fatalf("timer not restarted on reconnect")
	}

	if _, err := e.m.EndDay(ctx, "S1"); err != nil {
		t.Fatal(err)
	}
	if e.m.timerRunning("S1") {
		t.Fatalf("timer still running after end of day")
	}
}
