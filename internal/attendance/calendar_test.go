package attendance

import (
	"testing"
	"time"

	"attendance/internal/timetable"
)

func TestClassifyDay(t *testing.T) {
	tests := []struct {
		completed, present int
		attending          bool
		want               DayStatus
	}{
		{4, 0, false, DayAbsent},
		{0, 0, false, DayAbsent},
		{4, 2, false, DayPresentLow},
		{4, 3, false, DayPresentHigh},
		{4, 4, false, DayPresentHigh},
		{4, 1, true, DayAttending},
	}
	for _, tt := range tests {
		if got, _ := ClassifyDay(tt.completed, tt.present, tt.attending); got != tt.want {
			t.Errorf("ClassifyDay(%d, %d, %v) = %s, want %s", tt.completed, tt.present, tt.attending, got, tt.want)
		}
	}
}

func TestBuildCalendar(t *testing.T) {
	// January 2024: the 1st is a Monday, the 7th a Sunday.
	recs := []Record{
		{Date: "2024-01-01", PeriodNumber: 1, Status: StatusPresent},
		{Date: "2024-01-01", PeriodNumber: 2, Status: StatusPresent},
		{Date: "2024-01-01", PeriodNumber: 3, Status: StatusPresent},
		{Date: "2024-01-01", PeriodNumber: 4, Status: StatusAbsent},
		{Date: "2024-01-02", PeriodNumber: 1, Status: StatusPresent},
		{Date: "2024-01-02", PeriodNumber: 2, Status: StatusAbsent},
		{Date: "2024-01-03", PeriodNumber: 1, Status: StatusAbsent},
		{Date: "2024-01-05", PeriodNumber: 1, Status: StatusPresent},
	}
	cal := BuildCalendar(CalendarInput{
		Year:       2024,
		Month:      time.January,
		Today:      "2024-01-05",
		ActiveDate: "2024-01-05",
		Records:    recs,
		Totals:     map[timetable.Day]int{timetable.Monday: 4, timetable.Friday: 3},
	})

	got := make(map[string]CalendarDay)
	for _, c := range cal {
		got[c.Date] = c
	}
	want := map[string]DayStatus{
		"2024-01-01": DayPresentHigh,
		"2024-01-02": DayPresentLow,
		"2024-01-03": DayAbsent,
		"2024-01-05": DayAttending,
		"2024-01-06": DayFuture,
		"2024-01-08": DayFuture,
	}
	for date, status := range want {
		if got[date].Status != status {
			t.Errorf("%s = %q, want %q", date, got[date].Status, status)
		}
	}
	if _, ok := got["2024-01-04"]; ok {
		t.Errorf("past day without records should be omitted")
	}
	if _, ok := got["2024-01-07"]; ok {
		t.Errorf("sunday should not be a future day")
	}
	if got["2024-01-01"].AttendancePercent != 75 || got["2024-01-01"].TotalLectures != 4 {
		t.Errorf("monday = %+v", got["2024-01-01"])
	}
	if got["2024-01-05"].TotalLectures != 3 {
		t.Errorf("friday total = %d", got["2024-01-05"].TotalLectures)
	}
	if cal[len(cal)-1].Date != "2024-01-31" {
		t.Errorf("last cell = %s", cal[len(cal)-1].Date)
	}
}
