package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

var attendanceRecordColumns = []string{
	"id", "student_id", "kind", "recorded_at", "recorded_by", "created_at",
	"student.id", "student.national_id", "student.first_name", "student.last_name", "student.grade", "student.section",
	"student.guardian_name", "student.guardian_contact", "student.qr_code", "student.created_at", "student.updated_at",
}

func TestAttendanceRepositoryInsertCheckedLocksStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stu-1"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_events WHERE student_id = $1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "kind", "recorded_at", "recorded_by", "created_at"}).
			AddRow("ev-0", "stu-1", "exit", at.Add(-time.Hour), "user-1", at.Add(-time.Hour)))
	mock.ExpectExec("INSERT INTO attendance_events").
		WithArgs(sqlmock.AnyArg(), "stu-1", models.AttendanceEntry, at, "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var seen *models.AttendanceEvent
	event := &models.AttendanceEvent{StudentID: "stu-1", Kind: models.AttendanceEntry, RecordedAt: at, RecordedBy: "user-1"}
	err := repo.InsertChecked(context.Background(), event, func(last *models.AttendanceEvent) error {
		seen = last
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	require.NotNil(t, seen)
	assert.Equal(t, "ev-0", seen.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertCheckedRejection(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stu-1"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_events WHERE student_id = $1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "kind", "recorded_at", "recorded_by", "created_at"}).
			AddRow("ev-0", "stu-1", "entry", at, "user-1", at))
	mock.ExpectRollback()

	duplicate := errors.New("duplicate")
	event := &models.AttendanceEvent{StudentID: "stu-1", Kind: models.AttendanceEntry, RecordedAt: at, RecordedBy: "user-1"}
	err := repo.InsertChecked(context.Background(), event, func(last *models.AttendanceEvent) error {
		return duplicate
	})
	assert.ErrorIs(t, err, duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertCheckedUnknownStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.InsertChecked(context.Background(), &models.AttendanceEvent{StudentID: "ghost", Kind: models.AttendanceEntry}, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryLastForStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_events WHERE student_id = $1 ORDER BY recorded_at DESC, created_at DESC LIMIT 1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "kind", "recorded_at", "recorded_by", "created_at"}).
			AddRow("ev-1", "stu-1", "entry", at, "user-1", at))
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_events WHERE student_id = $1")).
		WithArgs("stu-2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	event, err := repo.LastForStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, models.AttendanceEntry, event.Kind)

	none, err := repo.LastForStudent(context.Background(), "stu-2")
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryRecentJoinsStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(attendanceRecordColumns).
		AddRow("ev-1", "stu-1", "exit", at, "user-1", at, "stu-1", "1-9", "Ana", "Pérez", 5, "A", "María", "912345678", "STU-1", at, at)
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_events a JOIN students s ON s.id = a.student_id ORDER BY a.recorded_at DESC, a.created_at DESC LIMIT $1")).
		WithArgs(20).
		WillReturnRows(rows)

	records, err := repo.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.AttendanceExit, records[0].Kind)
	assert.Equal(t, "Ana Pérez", records[0].Student.FullName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListBetween(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND a.recorded_at >= $1 AND a.recorded_at < $2 AND a.student_id = $3 ORDER BY a.recorded_at ASC, a.id ASC LIMIT 5")).
		WithArgs(from, to, "stu-1").
		WillReturnRows(sqlmock.NewRows(attendanceRecordColumns))

	records, err := repo.ListBetween(context.Background(), models.AttendanceRange{From: from, To: to, StudentID: "stu-1", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}
