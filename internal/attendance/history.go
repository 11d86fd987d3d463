package attendance

import (
	"context"
	"math"
	"sort"

	"attendance/internal/apperr"
	"attendance/internal/timetable"
)

// DayHistory groups one date's records.
type DayHistory struct {
	Date       string   `json:"date"`
	Records    []Record `json:"records"`
	Present    int      `json:"present"`
	Absent     int      `json:"absent"`
	Percentage int      `json:"percentage"`
}

// GroupByDate buckets records per date, newest date first, periods ascending.
func GroupByDate(recs []Record) []DayHistory {
	byDate := make(map[string]*DayHistory)
	var dates []string
	for _, rec := range recs {
		d, ok := byDate[rec.Date]
		if !ok {
			d = &DayHistory{Date: rec.Date}
			byDate[rec.Date] = d
			dates = append(dates, rec.Date)
		}
		d.Records = append(d.Records, rec)
		if rec.Attended() {
			d.Present++
		} else {
			d.Absent++
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]DayHistory, 0, len(dates))
	for _, date := range dates {
		d := byDate[date]
		sort.SliceStable(d.Records, func(i, j int) bool {
			return d.Records[i].PeriodNumber < d.Records[j].PeriodNumber
		})
		d.Percentage = percent(d.Present, len(d.Records))
		out = append(out, *d)
	}
	return out
}

// Report summarizes one class period on one date.
type Report struct {
	Class        timetable.ClassKey `json:"class"`
	Date         string             `json:"date"`
	PeriodNumber int                `json:"period_number"`
	Records      []Record           `json:"records"`
	Total        int                `json:"total"`
	Present      int                `json:"present"`
	Absent       int                `json:"absent"`
	Percentage   float64            `json:"percentage"`
}

// PeriodReport lists every record for a class period with totals.
func (r *Recorder) PeriodReport(ctx context.Context, class timetable.ClassKey, date string, periodNumber int) (Report, error) {
	class = class.Normalize()
	if class.Branch == "" || class.Semester == "" || date == "" || periodNumber < 1 {
		return Report{}, apperr.Malformed("branch, semester, date and period are required")
	}
	recs, err := r.store.ListByPeriod(ctx, class, date, periodNumber)
	if err != nil {
		return Report{}, apperr.Persistence("list period records", err)
	}
	rep := Report{Class: class, Date: date, PeriodNumber: periodNumber, Records: recs, Total: len(recs)}
	for _, rec := range recs {
		if rec.Attended() {
			rep.Present++
		}
	}
	rep.Absent = rep.Total - rep.Present
	if rep.Total > 0 {
		rep.Percentage = math.Round(float64(rep.Present)/float64(rep.Total)*10000) / 100
	}
	return rep, nil
}

func percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
