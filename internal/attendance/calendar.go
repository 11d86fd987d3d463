package attendance

import (
	"time"

	"attendance/internal/timetable"
)

// DayStatus classifies one calendar day for display.
type DayStatus string

const (
	DayFuture      DayStatus = "future"
	DayAttending   DayStatus = "attending"
	DayAbsent      DayStatus = "absent"
	DayPresentLow  DayStatus = "present_low"
	DayPresentHigh DayStatus = "present_high"
)

// LowAttendancePercent splits present_low from present_high.
const LowAttendancePercent = 75

// ClassifyDay derives a past or current day's status from its completed and present lecture counts.
func ClassifyDay(completed, present int, attending bool) (DayStatus, int) {
	pct := percent(present, completed)
	switch {
	case attending:
		return DayAttending, pct
	case pct == 0:
		return DayAbsent, pct
	case pct < LowAttendancePercent:
		return DayPresentLow, pct
	default:
		return DayPresentHigh, pct
	}
}

// CalendarDay is one cell of a month view.
type CalendarDay struct {
	Date              string        `json:"date"`
	DayOfWeek         timetable.Day `json:"day_of_week"`
	TotalLectures     int           `json:"total_lectures"`
	Attended          int           `json:"attended"`
	Absent            int           `json:"absent"`
	AttendancePercent int           `json:"attendance_percent"`
	Status            DayStatus     `json:"status"`
}

// CalendarInput is everything BuildCalendar needs; it performs no I/O.
type CalendarInput struct {
	Year  int
	Month time.Month
	// Today is the current local date (DateLayout). Later dates are future.
	Today string
	// ActiveDate is the date of a live session, if any.
	ActiveDate string
	Records    []Record
	// Totals holds the scheduled lecture count per weekday.
	Totals map[timetable.Day]int
}

// BuildCalendar classifies every day of the month that has data or lies ahead.
// Past days without records are omitted; Sundays are never future days.
func BuildCalendar(in CalendarInput) []CalendarDay {
	byDate := make(map[string][]Record)
	for _, rec := range in.Records {
		byDate[rec.Date] = append(byDate[rec.Date], rec)
	}

	first := time.Date(in.Year, in.Month, 1, 0, 0, 0, 0, time.UTC)
	var out []CalendarDay
	for d := first; d.Month() == in.Month; d = d.AddDate(0, 0, 1) {
		date := d.Format(DateLayout)
		day := timetable.DayOf(d)
		recs := byDate[date]
		cell := CalendarDay{Date: date, DayOfWeek: day, TotalLectures: in.Totals[day]}

		if in.Today != "" && date > in.Today {
			if !day.Schedulable() {
				continue
			}
			cell.Status = DayFuture
			out = append(out, cell)
			continue
		}
		attending := in.ActiveDate != "" && date == in.ActiveDate
		if len(recs) == 0 && !attending {
			continue
		}
		for _, rec := range recs {
			switch {
			case rec.Attended():
				cell.Attended++
			case rec.Status == StatusAbsent:
				cell.Absent++
			}
		}
		if cell.TotalLectures < len(recs) {
			cell.TotalLectures = len(recs)
		}
		cell.Status, cell.AttendancePercent = ClassifyDay(cell.Attended+cell.Absent, cell.Attended, attending)
		out = append(out, cell)
	}
	return out
}
