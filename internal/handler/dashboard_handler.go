package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qr-attendance-api/internal/dashboard"
	"github.com/noah-isme/qr-attendance-api/internal/dto"
	"github.com/noah-isme/qr-attendance-api/internal/middleware"
	"github.com/noah-isme/qr-attendance-api/pkg/response"
)

type dashboardProvider interface {
	ForDate(ctx context.Context, date time.Time) (dashboard.State, error)
}

// DashboardHandler serves the attendance overview.
type DashboardHandler struct {
	provider dashboardProvider
	location *time.Location
	now      func() time.Time
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(provider dashboardProvider, loc *time.Location) *DashboardHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardHandler{provider: provider, location: loc, now: time.Now}
}

// Get godoc
// @Summary Attendance dashboard of a day
// @Tags Dashboard
// @Produce json
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Get(c *gin.Context) {
	date, ok, err := parseDate(c, "date", h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		date = h.now().In(h.location)
	}
	state, err := h.provider.ForDate(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "students", len(state.Students))
	response.JSON(c, http.StatusOK, dashboardResponse(state, date.Format(dateLayout)), nil, middleware.ExtractMeta(c))
}

func dashboardResponse(state dashboard.State, date string) dto.DashboardResponse {
	events := make([]dto.DashboardEvent, 0, len(state.TodayEvents))
	for _, e := range state.TodayEvents {
		events = append(events, dto.DashboardEvent{
			ID:          e.ID,
			StudentID:   e.StudentID,
			StudentName: e.Student.FullName(),
			Course:      e.Student.Course(),
			Kind:        string(e.Kind),
			RecordedAt:  e.RecordedAt,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].RecordedAt.After(events[j].RecordedAt) })
	return dto.DashboardResponse{
		Date: date,
		Stats: dto.DashboardStats{
			TotalStudents:        state.Stats.TotalStudents,
			Present:              state.Stats.Present,
			Absent:               state.Stats.Absent,
			AttendancePercentage: state.Stats.AttendancePercentage,
			GradeCount:           state.Stats.GradeCount,
			Entries:              state.Stats.Entries,
			Exits:                state.Stats.Exits,
		},
		Events:    events,
		UpdatedAt: state.UpdatedAt,
	}
}
