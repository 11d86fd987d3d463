package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return &DB{Client: db}, db.PingContext(pingCtx)
}

// Migrate creates the attendance schema when missing.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Healthy verifies the database answers.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS timetables (
	branch        TEXT NOT NULL,
	semester      TEXT NOT NULL,
	section       TEXT NOT NULL DEFAULT 'A',
	academic_year TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (branch, semester, section)
);

CREATE TABLE IF NOT EXISTS timetable_periods (
	branch        TEXT NOT NULL,
	semester      TEXT NOT NULL,
	section       TEXT NOT NULL,
	position      INT NOT NULL,
	day_of_week   TEXT NOT NULL,
	period_number INT NOT NULL,
	start_time    TEXT NOT NULL,
	end_time      TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	teacher_id    TEXT NOT NULL DEFAULT '',
	room          TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL DEFAULT 'lecture',
	PRIMARY KEY (branch, semester, section, position),
	FOREIGN KEY (branch, semester, section) REFERENCES timetables (branch, semester, section) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_timetable_periods_teacher ON timetable_periods (teacher_id);

CREATE TABLE IF NOT EXISTS attendance_records (
	id               UUID PRIMARY KEY,
	student_id       TEXT NOT NULL,
	date             DATE NOT NULL,
	day_of_week      TEXT NOT NULL,
	period_number    INT NOT NULL,
	branch           TEXT NOT NULL,
	semester         TEXT NOT NULL,
	section          TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	teacher_id       TEXT NOT NULL DEFAULT '',
	room             TEXT NOT NULL DEFAULT '',
	start_time       TEXT NOT NULL,
	end_time         TEXT NOT NULL,
	status           TEXT NOT NULL,
	marked_at        TIMESTAMPTZ NOT NULL,
	check_in_time    TIMESTAMPTZ,
	check_out_time   TIMESTAMPTZ,
	duration_minutes INT NOT NULL DEFAULT 0,
	marked_by        TEXT NOT NULL,
	is_verified      BOOLEAN NOT NULL DEFAULT FALSE,
	verified_by      TEXT,
	academic_year    TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (student_id, date, period_number)
);

CREATE INDEX IF NOT EXISTS idx_attendance_records_student_date ON attendance_records (student_id, date);
CREATE INDEX IF NOT EXISTS idx_attendance_records_class_period ON attendance_records (branch, semester, section, date, period_number);

CREATE TABLE IF NOT EXISTS performance_summaries (
	student_id         TEXT PRIMARY KEY,
	total_lectures     INT NOT NULL,
	attended_lectures  INT NOT NULL,
	on_time_count      INT NOT NULL,
	late_count         INT NOT NULL,
	overall_percentage DOUBLE PRECISION NOT NULL,
	subject_wise       JSONB NOT NULL DEFAULT '[]',
	band               INT NOT NULL,
	last_calculated    TIMESTAMPTZ NOT NULL
);
`
