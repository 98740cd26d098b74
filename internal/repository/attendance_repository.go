package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

const attendanceRecordSelect = `SELECT a.id, a.student_id, a.kind, a.recorded_at, a.recorded_by, a.created_at,
        s.id AS "student.id", s.national_id AS "student.national_id", s.first_name AS "student.first_name", s.last_name AS "student.last_name",
        s.grade AS "student.grade", s.section AS "student.section", s.guardian_name AS "student.guardian_name",
        s.guardian_contact AS "student.guardian_contact", s.qr_code AS "student.qr_code", s.created_at AS "student.created_at", s.updated_at AS "student.updated_at"
        FROM attendance_events a JOIN students s ON s.id = a.student_id`

// AttendanceRepository persists the append-only attendance event log.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// InsertChecked appends event after check accepts the student's latest event.
// The student row stays locked from the read to the commit, so concurrent
// registrations for one student are serialized. An error from check aborts the
// transaction and is returned unchanged.
func (r *AttendanceRepository) InsertChecked(ctx context.Context, event *models.AttendanceEvent, check func(last *models.AttendanceEvent) error) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.RecordedAt.IsZero() {
		event.RecordedAt = now
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attendance insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var locked string
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, event.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock student: %w", err)
	}

	last, err := lastForStudent(ctx, tx, event.StudentID)
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(last); err != nil {
			return err
		}
	}

	const query = `INSERT INTO attendance_events (id, student_id, kind, recorded_at, recorded_by, created_at)
        VALUES (:id, :student_id, :kind, :recorded_at, :recorded_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("insert attendance event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance event: %w", err)
	}
	return nil
}

// LastForStudent returns the latest event for the student, or nil when none exists.
func (r *AttendanceRepository) LastForStudent(ctx context.Context, studentID string) (*models.AttendanceEvent, error) {
	return lastForStudent(ctx, r.db, studentID)
}

func lastForStudent(ctx context.Context, q sqlx.QueryerContext, studentID string) (*models.AttendanceEvent, error) {
	const query = `SELECT id, student_id, kind, recorded_at, recorded_by, created_at
        FROM attendance_events WHERE student_id = $1 ORDER BY recorded_at DESC, created_at DESC LIMIT 1`
	var event models.AttendanceEvent
	if err := sqlx.GetContext(ctx, q, &event, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last attendance event: %w", err)
	}
	return &event, nil
}

// Recent returns the latest registrations joined with their students.
func (r *AttendanceRepository) Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	query := attendanceRecordSelect + ` ORDER BY a.recorded_at DESC, a.created_at DESC LIMIT $1`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("recent attendance: %w", err)
	}
	return records, nil
}

// ListBetween returns events in [From, To) in chronological order.
func (r *AttendanceRepository) ListBetween(ctx context.Context, rng models.AttendanceRange) ([]models.AttendanceRecord, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if !rng.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("a.recorded_at >= $%d", len(args)+1))
		args = append(args, rng.From)
	}
	if !rng.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("a.recorded_at < $%d", len(args)+1))
		args = append(args, rng.To)
	}
	if rng.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, rng.StudentID)
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY a.recorded_at ASC, a.id ASC", attendanceRecordSelect, strings.Join(conditions, " AND "))
	if rng.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", rng.Limit)
	}

	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
