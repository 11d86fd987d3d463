package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"attendance/internal/timetable"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, date, day_of_week, period_number, branch, semester, section,
	subject, teacher_id, room, start_time, end_time, status, marked_at, check_in_time, check_out_time,
	duration_minutes, marked_by, is_verified, verified_by, academic_year, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec               Record
		date              time.Time
		day, status, by   string
		verifiedBy        sql.NullString
		checkIn, checkOut sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.StudentID, &date, &day, &rec.PeriodNumber,
		&rec.Class.Branch, &rec.Class.Semester, &rec.Class.Section,
		&rec.Subject, &rec.TeacherID, &rec.Room, &rec.StartTime, &rec.EndTime,
		&status, &rec.MarkedAt, &checkIn, &checkOut, &rec.DurationMinutes, &by,
		&rec.IsVerified, &verifiedBy, &rec.AcademicYear, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Date = date.Format(DateLayout)
	rec.DayOfWeek = timetable.Day(day)
	rec.Status = Status(status)
	rec.MarkedBy = MarkedBy(by)
	rec.VerifiedBy = verifiedBy.String
	if checkIn.Valid {
		t := checkIn.Time
		rec.CheckInTime = &t
	}
	if checkOut.Valid {
		t := checkOut.Time
		rec.CheckOutTime = &t
	}
	return rec, nil
}

// Find returns the record for key, nil when absent.
func (r *Repository) Find(ctx context.Context, key Key) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND date = $2 AND period_number = $3
	`, key.StudentID, key.Date, key.PeriodNumber)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert writes the record keyed by (student_id, date, period_number).
func (r *Repository) Upsert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	var verifiedBy any
	if rec.VerifiedBy != "" {
		verifiedBy = rec.VerifiedBy
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, date, day_of_week, period_number, branch, semester, section,
			subject, teacher_id, room, start_time, end_time, status, marked_at, check_in_time, check_out_time,
			duration_minutes, marked_by, is_verified, verified_by, academic_year)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (student_id, date, period_number) DO UPDATE SET
			status = EXCLUDED.status,
			marked_at = EXCLUDED.marked_at,
			check_in_time = COALESCE(attendance_records.check_in_time, EXCLUDED.check_in_time),
			check_out_time = COALESCE(EXCLUDED.check_out_time, attendance_records.check_out_time),
			duration_minutes = EXCLUDED.duration_minutes,
			marked_by = EXCLUDED.marked_by,
			is_verified = EXCLUDED.is_verified,
			verified_by = COALESCE(EXCLUDED.verified_by, attendance_records.verified_by),
			updated_at = NOW()
		RETURNING `+recordColumns,
		rec.ID, rec.StudentID, rec.Date, string(rec.DayOfWeek), rec.PeriodNumber,
		rec.Class.Branch, rec.Class.Semester, rec.Class.Section,
		rec.Subject, rec.TeacherID, rec.Room, rec.StartTime, rec.EndTime,
		string(rec.Status), rec.MarkedAt, rec.CheckInTime, rec.CheckOutTime,
		rec.DurationMinutes, string(rec.MarkedBy), rec.IsVerified, verifiedBy, rec.AcademicYear)
	return scanRecord(row)
}

// ListByStudent returns the student's records ordered by date then period.
func (r *Repository) ListByStudent(ctx context.Context, studentID string, q Query) ([]Record, error) {
	query, args := studentQuery(studentID, q)
	return r.list(ctx, query, args...)
}

func studentQuery(studentID string, q Query) (string, []any) {
	args := []any{studentID}
	clauses := []string{"student_id = $1"}
	if q.From != "" {
		args = append(args, q.From)
		clauses = append(clauses, "date >= $"+strconv.Itoa(len(args)))
	}
	if q.To != "" {
		args = append(args, q.To)
		clauses = append(clauses, "date <= $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY date, period_number`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return query, args
}

// ListByPeriod returns every record of one class period on one date.
func (r *Repository) ListByPeriod(ctx context.Context, class timetable.ClassKey, date string, periodNumber int) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+`
		FROM attendance_records
		WHERE branch = $1 AND semester = $2 AND section = $3 AND date = $4 AND period_number = $5
		ORDER BY student_id
	`, class.Branch, class.Semester, class.Section, date, periodNumber)
}

// StudentIDs returns every student that has a record.
func (r *Repository) StudentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT student_id FROM attendance_records ORDER BY student_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
