package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/report"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
	"github.com/noah-isme/qr-attendance-api/pkg/export"
	"github.com/noah-isme/qr-attendance-api/pkg/storage"
)

type attendanceSource interface {
	Range(ctx context.Context, from, to time.Time) ([]models.AttendanceRecord, error)
}

type rosterSource interface {
	All(ctx context.Context) ([]models.Student, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

type xlsxRenderer interface {
	Render(sheets []export.Sheet) ([]byte, error)
}

// Content types served for each report format.
var contentTypes = map[models.ReportFormat]string{
	models.ReportFormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	models.ReportFormatPDF:  "application/pdf",
	models.ReportFormatCSV:  "text/csv; charset=utf-8",
}

// ContentType returns the MIME type for a report format.
func ContentType(format models.ReportFormat) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix  string
	ResultTTL  time.Duration
	SummaryTTL time.Duration
	SchoolName string
	TopN       int
	Location   *time.Location
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// RenderedReport is a report rendered in memory.
type RenderedReport struct {
	Filename    string
	ContentType string
	Data        []byte
	Summary     models.ReportSummary
}

// ExportService builds attendance reports and persists rendered files.
type ExportService struct {
	attendance attendanceSource
	roster     rosterSource
	storage    fileStorage
	csv        csvRenderer
	pdf        pdfRenderer
	xlsx       xlsxRenderer
	signer     *storage.SignedURLSigner
	cache      *CacheService
	clock      clock.Clock
	logger     *zap.Logger
	cfg        ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(attendance attendanceSource, roster rosterSource, store fileStorage, signer *storage.SignedURLSigner, cache *CacheService, cfg ExportConfig, logger *zap.Logger, clk clock.Clock) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.SummaryTTL <= 0 {
		cfg.SummaryTTL = 5 * time.Minute
	}
	if cfg.TopN <= 0 {
		cfg.TopN = report.DefaultTopN
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ExportService{
		attendance: attendance,
		roster:     roster,
		storage:    store,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(logger),
		xlsx:       export.NewXLSXExporter(),
		signer:     signer,
		cache:      cache,
		clock:      clk,
		logger:     logger,
		cfg:        cfg,
	}
}

// Summary aggregates the filtered attendance records. Results are cached until the next registration.
func (s *ExportService) Summary(ctx context.Context, filter models.ReportFilter, topN int) (*models.ReportSummary, error) {
	if topN <= 0 {
		topN = s.cfg.TopN
	}
	key := CachePrefixReports + "summary:" + summaryKey(filter, topN)
	var cached models.ReportSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	records, roster, err := s.load(ctx, filter)
	if err != nil {
		return nil, err
	}
	summary := report.Aggregate(records, roster, filter, topN, s.cfg.Location)
	if err := s.cache.Set(ctx, key, summary, s.cfg.SummaryTTL); err != nil {
		s.logger.Debug("report summary not cached", zap.Error(err))
	}
	return &summary, nil
}

// Export renders the filtered report in the requested format.
func (s *ExportService) Export(ctx context.Context, filter models.ReportFilter, format models.ReportFormat) (*RenderedReport, error) {
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	records, roster, err := s.load(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.render(records, roster, filter, s.cfg.TopN, format)
}

// Generate renders the job's report and stores it behind a signed download URL.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	records, roster, err := s.load(ctx, job.Params.Filter)
	if err != nil {
		return nil, err
	}
	rendered, err := s.render(records, roster, job.Params.Filter, job.Params.TopN, job.Format)
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(path.Join(job.ID, rendered.Filename), rendered.Data)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) load(ctx context.Context, filter models.ReportFilter) ([]models.AttendanceRecord, []models.Student, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	var from, to time.Time
	if filter.From != nil {
		from = *filter.From
	}
	if filter.To != nil {
		to = *filter.To
	}
	records, err := s.attendance.Range(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}
	roster, err := s.roster.All(ctx)
	if err != nil {
		return nil, nil, err
	}
	return records, roster, nil
}

func (s *ExportService) render(records []models.AttendanceRecord, roster []models.Student, filter models.ReportFilter, topN int, format models.ReportFormat) (*RenderedReport, error) {
	if topN <= 0 {
		topN = s.cfg.TopN
	}
	now := s.clock.Now()
	loc := s.cfg.Location
	filtered := report.Apply(records, filter)
	summary := report.Aggregate(filtered, roster, filter, topN, loc)

	var (
		data []byte
		err  error
	)
	switch format {
	case models.ReportFormatXLSX:
		data, err = s.xlsx.Render(report.Workbook(filtered, summary, loc))
	case models.ReportFormatPDF:
		data, err = s.pdf.Render(report.Document(filtered, summary, filter, s.cfg.SchoolName, now, loc))
	case models.ReportFormatCSV:
		data, err = s.csv.Render(report.Records(filtered, loc))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	s.logger.Info("report rendered",
		zap.String("format", string(format)),
		zap.Int("records", len(filtered)),
		zap.Int("bytes", len(data)),
	)
	return &RenderedReport{
		Filename:    report.Filename(now, filter, format, loc),
		ContentType: ContentType(format),
		Data:        data,
		Summary:     summary,
	}, nil
}

func summaryKey(filter models.ReportFilter, topN int) string {
	raw, _ := json.Marshal(struct {
		Filter models.ReportFilter `json:"f"`
		TopN   int                 `json:"n"`
	}{filter, topN})
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}
