package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
	"github.com/noah-isme/qr-attendance-api/pkg/response"
)

const maxRecentLimit = 100

type attendanceService interface {
	Register(ctx context.Context, req service.RegisterAttendanceRequest) (*models.AttendanceEvent, error)
	SuggestForStudent(ctx context.Context, studentID string) (*models.ScanResult, error)
	Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error)
	ListByDate(ctx context.Context, date time.Time) ([]models.AttendanceRecord, error)
	History(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error)
}

// AttendanceHandler exposes manual registration and attendance listings.
type AttendanceHandler struct {
	attendance attendanceService
	location   *time.Location
	now        func() time.Time
}

// NewAttendanceHandler constructs the handler. Dates in queries are read in loc.
func NewAttendanceHandler(attendance attendanceService, loc *time.Location) *AttendanceHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AttendanceHandler{attendance: attendance, location: loc, now: time.Now}
}

// Register godoc
// @Summary Register an entry or exit
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.RegisterAttendanceRequest true "Registration"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Registered with the same kind inside the duplicate window"
// @Router /attendance [post]
func (h *AttendanceHandler) Register(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RegisterAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.ActorID = claims.UserID
	req.Window = 0

	event, err := h.attendance.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Suggestion godoc
// @Summary Suggested kind for a student
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{id}/suggestion [get]
func (h *AttendanceHandler) Suggestion(c *gin.Context) {
	result, err := h.attendance.SuggestForStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Recent godoc
// @Summary Latest registrations
// @Tags Attendance
// @Produce json
// @Param limit query int false "Maximum rows (default 10)"
// @Success 200 {object} response.Envelope
// @Router /attendance/recent [get]
func (h *AttendanceHandler) Recent(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	if limit < 1 || limit > maxRecentLimit {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be between 1 and 100"))
		return
	}
	records, err := h.attendance.Recent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// ByDate godoc
// @Summary Registrations of a day
// @Tags Attendance
// @Produce json
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) ByDate(c *gin.Context) {
	date, ok, err := parseDate(c, "date", h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		date = h.now().In(h.location)
	}
	records, err := h.attendance.ListByDate(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil, map[string]interface{}{"date": date.Format(dateLayout), "count": len(records)})
}

// History godoc
// @Summary Attendance history of a student
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day, inclusive (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{id}/history [get]
func (h *AttendanceHandler) History(c *gin.Context) {
	from, _, err := parseDate(c, "from", h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	to, ok, err := parseDate(c, "to", h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	if ok {
		to = to.AddDate(0, 0, 1)
	}
	records, err := h.attendance.History(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}
