package performance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Repository persists summaries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Find returns the cached summary, nil when absent.
func (r *Repository) Find(ctx context.Context, studentID string) (*Summary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, total_lectures, attended_lectures, on_time_count, late_count,
			overall_percentage, subject_wise, band, last_calculated
		FROM performance_summaries WHERE student_id = $1
	`, studentID)
	var (
		s        Summary
		subjects []byte
	)
	if err := row.Scan(&s.StudentID, &s.TotalLectures, &s.AttendedLectures, &s.OnTimeCount, &s.LateCount,
		&s.OverallPercentage, &subjects, &s.Band, &s.LastCalculated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(subjects) > 0 {
		if err := json.Unmarshal(subjects, &s.SubjectWise); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// Upsert replaces the student's summary.
func (r *Repository) Upsert(ctx context.Context, s Summary) error {
	subjects, err := json.Marshal(s.SubjectWise)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO performance_summaries (student_id, total_lectures, attended_lectures, on_time_count, late_count,
			overall_percentage, subject_wise, band, last_calculated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (student_id) DO UPDATE SET
			total_lectures = EXCLUDED.total_lectures,
			attended_lectures = EXCLUDED.attended_lectures,
			on_time_count = EXCLUDED.on_time_count,
			late_count = EXCLUDED.late_count,
			overall_percentage = EXCLUDED.overall_percentage,
			subject_wise = EXCLUDED.subject_wise,
			band = EXCLUDED.band,
			last_calculated = EXCLUDED.last_calculated
	`, s.StudentID, s.TotalLectures, s.AttendedLectures, s.OnTimeCount, s.LateCount,
		s.OverallPercentage, subjects, s.Band, s.LastCalculated)
	return err
}
