package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qr-attendance-api/internal/dto"
	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
	"github.com/noah-isme/qr-attendance-api/pkg/response"
)

type reportJobService interface {
	CreateJob(ctx context.Context, req dto.ReportRequest, actorID string) (*dto.ReportJobResponse, error)
	GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ReportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

type reportExporter interface {
	Summary(ctx context.Context, filter models.ReportFilter, topN int) (*models.ReportSummary, error)
	Export(ctx context.Context, filter models.ReportFilter, format models.ReportFormat) (*service.RenderedReport, error)
}

// ReportHandler exposes attendance reports and exports.
type ReportHandler struct {
	jobs     reportJobService
	exporter reportExporter
	location *time.Location
}

// NewReportHandler constructs handler. Query dates are read in loc.
func NewReportHandler(jobs reportJobService, exporter reportExporter, loc *time.Location) *ReportHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportHandler{jobs: jobs, exporter: exporter, location: loc}
}

// Summary godoc
// @Summary Attendance summary
// @Tags Reports
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day, inclusive (YYYY-MM-DD)"
// @Param grade query int false "Grade"
// @Param section query string false "Section"
// @Param kind query string false "entry or exit"
// @Param top query int false "Number of most frequent students"
// @Success 200 {object} response.Envelope
// @Router /reports/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	filter, err := h.filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.exporter.Summary(c.Request.Context(), filter, queryInt(c, "top", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Download an attendance report
// @Tags Reports
// @Produce application/octet-stream
// @Param format query string true "xlsx, pdf or csv"
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day, inclusive (YYYY-MM-DD)"
// @Param grade query int false "Grade"
// @Param section query string false "Section"
// @Param kind query string false "entry or exit"
// @Success 200 {file} binary
// @Router /reports/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	format := models.ReportFormat(strings.ToLower(strings.TrimSpace(c.Query("format"))))
	filter, err := h.filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.exporter.Export(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, report.Filename, report.ContentType, report.Data)
}

// CreateJob godoc
// @Summary Queue a report export
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.ReportRequest true "Report request"
// @Success 202 {object} response.Envelope
// @Router /reports/jobs [post]
func (h *ReportHandler) CreateJob(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	resp, err := h.jobs.CreateJob(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, resp, nil)
}

// JobStatus godoc
// @Summary Report job status
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/jobs/{id} [get]
func (h *ReportHandler) JobStatus(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp, err := h.jobs.GetStatus(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Download godoc
// @Summary Download a generated report
// @Tags Reports
// @Produce application/octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /export/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	download, err := h.jobs.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export file"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Expires", download.ExpiresAt.UTC().Format(http.TimeFormat))
	c.DataFromReader(http.StatusOK, info.Size(), service.ContentType(download.Format), download.File, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.Filename),
	})
}

// filterFromQuery reads report filters; "to" names the last included day.
func (h *ReportHandler) filterFromQuery(c *gin.Context) (models.ReportFilter, error) {
	var filter models.ReportFilter
	from, ok, err := parseDate(c, "from", h.location)
	if err != nil {
		return filter, err
	}
	if ok {
		filter.From = &from
	}
	to, ok, err := parseDate(c, "to", h.location)
	if err != nil {
		return filter, err
	}
	if ok {
		end := to.AddDate(0, 0, 1)
		filter.To = &end
	}
	if raw := strings.TrimSpace(c.Query("grade")); raw != "" {
		grade, err := strconv.Atoi(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "grade must be a number")
		}
		filter.Grade = &grade
	}
	filter.Section = strings.TrimSpace(c.Query("section"))
	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		kind, ok := models.ParseAttendanceKind(raw)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, "kind must be entry or exit")
		}
		filter.Kind = &kind
	}
	return filter, nil
}
