package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/service"
)

type attendanceServiceMock struct {
	registered  service.RegisterAttendanceRequest
	registerErr error
	limit       int
	date        time.Time
	from, to    time.Time
	records     []models.AttendanceRecord
}

func (m *attendanceServiceMock) Register(ctx context.Context, req service.RegisterAttendanceRequest) (*models.AttendanceEvent, error) {
	m.registered = req
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &models.AttendanceEvent{ID: "evt-1", StudentID: req.StudentID, Kind: req.Kind, RecordedBy: req.ActorID}, nil
}

func (m *attendanceServiceMock) SuggestForStudent(ctx context.Context, studentID string) (*models.ScanResult, error) {
	return &models.ScanResult{Student: models.Student{ID: studentID}, SuggestedKind: models.AttendanceExit}, nil
}

func (m *attendanceServiceMock) Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error) {
	m.limit = limit
	return m.records, nil
}

func (m *attendanceServiceMock) ListByDate(ctx context.Context, date time.Time) ([]models.AttendanceRecord, error) {
	m.date = date
	return m.records, nil
}

func (m *attendanceServiceMock) History(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	m.from, m.to = from, to
	return m.records, nil
}

func TestAttendanceHandlerRegisterUsesCaller(t *testing.T) {
	svc := &attendanceServiceMock{}
	handler := NewAttendanceHandler(svc, nil)

	c, w := newGinContext(http.MethodPost, "/attendance", []byte(`{"student_id":"stu-1","kind":"entry"}`))
	asStaff(c, "staff-9")
	handler.Register(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "staff-9", svc.registered.ActorID)
	assert.Equal(t, models.AttendanceEntry, svc.registered.Kind)
	assert.Zero(t, svc.registered.Window)

	c, w = newGinContext(http.MethodPost, "/attendance", []byte(`{"student_id":"stu-1","kind":"entry"}`))
	handler.Register(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodPost, "/attendance", []byte(`{"student_id":`))
	asStaff(c, "staff-9")
	handler.Register(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerRegisterRejection(t *testing.T) {
	svc := &attendanceServiceMock{registerErr: &service.RejectionError{Reason: "Ana Rojas already registered entry 2 minutes ago"}}
	handler := NewAttendanceHandler(svc, nil)

	c, w := newGinContext(http.MethodPost, "/attendance", []byte(`{"student_id":"stu-1","kind":"entry"}`))
	asStaff(c, "staff-9")
	handler.Register(c)

	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DUPLICATE_ATTENDANCE", env.Error.Code)
	assert.Equal(t, "Ana Rojas already registered entry 2 minutes ago", env.Error.Message)
}

func TestAttendanceHandlerRecentLimit(t *testing.T) {
	svc := &attendanceServiceMock{}
	handler := NewAttendanceHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/attendance/recent", nil)
	handler.Recent(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, svc.limit)

	c, w = newGinContext(http.MethodGet, "/attendance/recent?limit=500", nil)
	handler.Recent(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerByDate(t *testing.T) {
	svc := &attendanceServiceMock{records: []models.AttendanceRecord{{AttendanceEvent: models.AttendanceEvent{ID: "e1"}}}}
	handler := NewAttendanceHandler(svc, nil)
	handler.now = func() time.Time { return time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC) }

	c, w := newGinContext(http.MethodGet, "/attendance", nil)
	handler.ByDate(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, svc.date.Day())

	env := decodeEnvelope(w)
	assert.Equal(t, "2024-03-04", env.Meta["date"])
	assert.Equal(t, float64(1), env.Meta["count"])

	c, w = newGinContext(http.MethodGet, "/attendance?date=04/03/2024", nil)
	handler.ByDate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerHistoryInclusiveTo(t *testing.T) {
	svc := &attendanceServiceMock{}
	handler := NewAttendanceHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/attendance/students/stu-1/history?from=2024-03-01&to=2024-03-04", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	handler.History(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), svc.from)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), svc.to)
}

func TestAttendanceHandlerSuggestion(t *testing.T) {
	handler := NewAttendanceHandler(&attendanceServiceMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/attendance/students/stu-1/suggestion", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	handler.Suggestion(c)

	require.Equal(t, http.StatusOK, w.Code)
	var result models.ScanResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(w).Data, &result))
	assert.Equal(t, models.AttendanceExit, result.SuggestedKind)
}
