package timetable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository persists timetables in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Find loads a class timetable with its periods in stored order.
func (r *Repository) Find(ctx context.Context, class ClassKey) (*Timetable, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT branch, semester, section, academic_year, updated_at
		FROM timetables
		WHERE branch = $1 AND semester = $2 AND section = $3 AND is_active
	`, class.Branch, class.Semester, class.Section)
	var t Timetable
	if err := row.Scan(&t.Class.Branch, &t.Class.Semester, &t.Class.Section, &t.AcademicYear, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	periods, err := r.periods(ctx, t.Class)
	if err != nil {
		return nil, err
	}
	t.Periods = periods
	return &t, nil
}

// FindByTeacher returns every active timetable in which the teacher holds a period.
func (r *Repository) FindByTeacher(ctx context.Context, teacherID string) ([]Timetable, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT t.branch, t.semester, t.section
		FROM timetables t
		JOIN timetable_periods p ON p.branch = t.branch AND p.semester = t.semester AND p.section = t.section
		WHERE p.teacher_id = $1 AND t.is_active
		ORDER BY t.branch, t.semester, t.section
	`, teacherID)
	if err != nil {
		return nil, err
	}
	var keys []ClassKey
	for rows.Next() {
		var k ClassKey
		if err := rows.Scan(&k.Branch, &k.Semester, &k.Section); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Timetable, 0, len(keys))
	for _, k := range keys {
		t, err := r.Find(ctx, k)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

// Replace swaps the class timetable and all of its periods in one transaction.
func (r *Repository) Replace(ctx context.Context, t Timetable) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO timetables (branch, semester, section, academic_year, is_active, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (branch, semester, section) DO UPDATE SET
			academic_year = EXCLUDED.academic_year,
			is_active = TRUE,
			updated_at = EXCLUDED.updated_at
	`, t.Class.Branch, t.Class.Semester, t.Class.Section, t.AcademicYear, t.UpdatedAt); err != nil {
		return fmt.Errorf("upsert timetable: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM timetable_periods WHERE branch = $1 AND semester = $2 AND section = $3
	`, t.Class.Branch, t.Class.Semester, t.Class.Section); err != nil {
		return fmt.Errorf("clear periods: %w", err)
	}
	for i, p := range t.Periods {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO timetable_periods
				(branch, semester, section, position, day_of_week, period_number, start_time, end_time, subject, teacher_id, room, kind)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, t.Class.Branch, t.Class.Semester, t.Class.Section, i, string(p.Day), p.PeriodNumber,
			p.StartTime, p.EndTime, p.Subject, p.TeacherID, p.Room, string(p.Kind)); err != nil {
			return fmt.Errorf("insert period %d: %w", p.PeriodNumber, err)
		}
	}
	return tx.Commit()
}

func (r *Repository) periods(ctx context.Context, class ClassKey) ([]ScheduledPeriod, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day_of_week, period_number, start_time, end_time, subject, teacher_id, room, kind
		FROM timetable_periods
		WHERE branch = $1 AND semester = $2 AND section = $3
		ORDER BY position
	`, class.Branch, class.Semester, class.Section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduledPeriod
	for rows.Next() {
		var (
			p         ScheduledPeriod
			day, kind string
		)
		if err := rows.Scan(&day, &p.PeriodNumber, &p.StartTime, &p.EndTime, &p.Subject, &p.TeacherID, &p.Room, &kind); err != nil {
			return nil, err
		}
		p.Day, p.Kind = Day(day), Kind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}
