package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qr-attendance-api/internal/dto"
	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

type reportServiceMock struct {
	createResp  *dto.ReportJobResponse
	createErr   error
	createActor string
	statusResp  *dto.ReportStatusResponse
	statusErr   error
	download    *service.ReportDownload
	downloadErr error
}

func (m *reportServiceMock) CreateJob(ctx context.Context, req dto.ReportRequest, actorID string) (*dto.ReportJobResponse, error) {
	m.createActor = actorID
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ReportStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

type exporterMock struct {
	filter models.ReportFilter
	topN   int
	format models.ReportFormat
}

func (m *exporterMock) Summary(ctx context.Context, filter models.ReportFilter, topN int) (*models.ReportSummary, error) {
	m.filter, m.topN = filter, topN
	return &models.ReportSummary{TotalRecords: 3, Entries: 2, Exits: 1}, nil
}

func (m *exporterMock) Export(ctx context.Context, filter models.ReportFilter, format models.ReportFormat) (*service.RenderedReport, error) {
	m.filter, m.format = filter, format
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be xlsx, pdf or csv")
	}
	return &service.RenderedReport{
		Filename:    "asistencia_20240304_103000_todos.csv",
		ContentType: service.ContentType(format),
		Data:        []byte("Nombre\n"),
	}, nil
}

func TestReportHandlerCreateJob(t *testing.T) {
	mockSvc := &reportServiceMock{
		createResp: &dto.ReportJobResponse{ID: "job-1", Status: models.ReportStatusQueued},
	}
	handler := NewReportHandler(mockSvc, &exporterMock{}, nil)

	c, w := newGinContext(http.MethodPost, "/reports/jobs", mustJSON(dto.ReportRequest{Format: models.ReportFormatCSV}))
	asStaff(c, "staff-1")
	handler.CreateJob(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "staff-1", mockSvc.createActor)

	c, w = newGinContext(http.MethodPost, "/reports/jobs", nil)
	handler.CreateJob(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReportHandlerJobStatus(t *testing.T) {
	handler := NewReportHandler(&reportServiceMock{statusErr: appErrors.ErrForbidden}, &exporterMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/reports/jobs/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	asStaff(c, "someone-else")
	handler.JobStatus(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReportHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	handler := NewReportHandler(&reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "report.csv",
			Format:    models.ReportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}, &exporterMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}
	handler.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data", w.Body.String())
	assert.Equal(t, `attachment; filename="report.csv"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
}

func TestReportHandlerDownloadRejectsBadToken(t *testing.T) {
	handler := NewReportHandler(&reportServiceMock{
		downloadErr: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token"),
	}, &exporterMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/export/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}
	handler.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReportHandlerSummaryParsesFilters(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	exporter := &exporterMock{}
	handler := NewReportHandler(&reportServiceMock{}, exporter, santiago)

	c, w := newGinContext(http.MethodGet, "/reports/summary?from=2024-03-01&to=2024-03-04&grade=5&section=A&kind=SALIDA&top=3", nil)
	handler.Summary(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/reports/summary?from=2024-03-01&to=2024-03-04&grade=5&section=A&kind=exit&top=3", nil)
	handler.Summary(c)
	require.Equal(t, http.StatusOK, w.Code)

	f := exporter.filter
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, santiago), *f.From)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, santiago), *f.To)
	assert.Equal(t, 5, *f.Grade)
	assert.Equal(t, "A", f.Section)
	assert.Equal(t, models.AttendanceExit, *f.Kind)
	assert.Equal(t, 3, exporter.topN)
}

func TestReportHandlerExport(t *testing.T) {
	exporter := &exporterMock{}
	handler := NewReportHandler(&reportServiceMock{}, exporter, nil)

	c, w := newGinContext(http.MethodGet, "/reports/export?format=CSV", nil)
	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ReportFormatCSV, exporter.format)
	assert.Equal(t, `attachment; filename="asistencia_20240304_103000_todos.csv"`, w.Header().Get("Content-Disposition"))

	c, w = newGinContext(http.MethodGet, "/reports/export?format=doc", nil)
	handler.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/reports/export?format=pdf&from=yesterday", nil)
	handler.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
