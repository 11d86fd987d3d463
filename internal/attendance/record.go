package attendance

import (
	"time"

	"attendance/internal/timetable"
)

// Status of one period attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Valid reports whether s is a known record status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// MarkedBy names who produced a record.
type MarkedBy string

const (
	ByStudent MarkedBy = "student"
	ByTeacher MarkedBy = "teacher"
	BySystem  MarkedBy = "system"
)

// DateLayout is the calendar date format used as the record key.
const DateLayout = "2006-01-02"

// Record is the attendance of one student in one period on one date.
// (StudentID, Date, PeriodNumber) is unique.
type Record struct {
	ID              string             `json:"id"`
	StudentID       string             `json:"student_id"`
	Date            string             `json:"date"`
	DayOfWeek       timetable.Day      `json:"day_of_week"`
	PeriodNumber    int                `json:"period_number"`
	Class           timetable.ClassKey `json:"class"`
	Subject         string             `json:"subject"`
	TeacherID       string             `json:"teacher_id"`
	Room            string             `json:"room"`
	StartTime       string             `json:"start_time"`
	EndTime         string             `json:"end_time"`
	Status          Status             `json:"status"`
	MarkedAt        time.Time          `json:"marked_at"`
	CheckInTime     *time.Time         `json:"check_in_time,omitempty"`
	CheckOutTime    *time.Time         `json:"check_out_time,omitempty"`
	DurationMinutes int                `json:"duration_minutes"`
	MarkedBy        MarkedBy           `json:"marked_by"`
	IsVerified      bool               `json:"is_verified"`
	VerifiedBy      string             `json:"verified_by,omitempty"`
	AcademicYear    string             `json:"academic_year"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Attended reports whether the record counts toward attendance.
func (r Record) Attended() bool { return r.Status == StatusPresent }

// Key identifies a record.
type Key struct {
	StudentID    string
	Date         string
	PeriodNumber int
}

// Key returns the uniqueness key of r.
func (r Record) Key() Key {
	return Key{StudentID: r.StudentID, Date: r.Date, PeriodNumber: r.PeriodNumber}
}
