package performance

import (
	"math"
	"time"

	"attendance/internal/attendance"
)

// AtRiskPercent is the overall attendance below which a student is flagged.
const AtRiskPercent = 75

// SubjectStat is one subject's share of a summary.
type SubjectStat struct {
	Subject    string  `json:"subject"`
	Total      int     `json:"total"`
	Attended   int     `json:"attended"`
	Percentage float64 `json:"percentage"`
}

// Summary is the cached attendance aggregate of one student. It can always be rebuilt from records.
type Summary struct {
	StudentID         string        `json:"student_id"`
	TotalLectures     int           `json:"total_lectures"`
	AttendedLectures  int           `json:"attended_lectures"`
	OnTimeCount       int           `json:"on_time_count"`
	LateCount         int           `json:"late_count"`
	OverallPercentage float64       `json:"overall_percentage"`
	SubjectWise       []SubjectStat `json:"subject_wise"`
	Band              int           `json:"band"`
	LastCalculated    time.Time     `json:"last_calculated"`
}

// IsAtRisk reports whether overall attendance is below AtRiskPercent.
func (s Summary) IsAtRisk() bool { return s.OverallPercentage < AtRiskPercent }

// LowestSubject returns the subject with the lowest percentage; ties keep the first.
func (s Summary) LowestSubject() (SubjectStat, bool) {
	return s.pick(func(a, b float64) bool { return a < b })
}

// HighestSubject returns the subject with the highest percentage; ties keep the first.
func (s Summary) HighestSubject() (SubjectStat, bool) {
	return s.pick(func(a, b float64) bool { return a > b })
}

func (s Summary) pick(better func(a, b float64) bool) (SubjectStat, bool) {
	if len(s.SubjectWise) == 0 {
		return SubjectStat{}, false
	}
	best := s.SubjectWise[0]
	for _, st := range s.SubjectWise[1:] {
		if better(st.Percentage, best.Percentage) {
			best = st
		}
	}
	return best, true
}

// Band maps an overall percentage onto the 4-10 scale.
func Band(pct float64) int {
	switch {
	case pct >= 90:
		return 10
	case pct >= 80:
		return 9
	case pct >= 70:
		return 8
	case pct >= 60:
		return 7
	case pct >= 50:
		return 6
	case pct >= 40:
		return 5
	default:
		return 4
	}
}

// Compute folds a student's records into a summary. It returns nil when there are no records.
func Compute(studentID string, recs []attendance.Record, at time.Time) *Summary {
	if len(recs) == 0 {
		return nil
	}
	sum := &Summary{StudentID: studentID, TotalLectures: len(recs), LastCalculated: at}
	index := make(map[string]int)
	for _, rec := range recs {
		i, ok := index[rec.Subject]
		if !ok {
			i = len(sum.SubjectWise)
			index[rec.Subject] = i
			sum.SubjectWise = append(sum.SubjectWise, SubjectStat{Subject: rec.Subject})
		}
		sum.SubjectWise[i].Total++
		switch rec.Status {
		case attendance.StatusPresent:
			sum.AttendedLectures++
			sum.OnTimeCount++
			sum.SubjectWise[i].Attended++
		case attendance.StatusLate:
			sum.LateCount++
		}
	}
	overall := float64(sum.AttendedLectures) / float64(sum.TotalLectures) * 100
	sum.OverallPercentage = round2(overall)
	for i := range sum.SubjectWise {
		st := &sum.SubjectWise[i]
		st.Percentage = round2(float64(st.Attended) / float64(st.Total) * 100)
	}
	// Banded before rounding: 89.996 is still band 9.
	sum.Band = Band(overall)
	return sum
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
