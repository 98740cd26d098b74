package dto

import "github.com/noah-isme/qr-attendance-api/internal/models"

// ReportRequest captures POST /reports/jobs payload.
type ReportRequest struct {
	Format models.ReportFormat `json:"format" validate:"required,oneof=xlsx pdf csv"`
	Filter models.ReportFilter `json:"filter"`
	TopN   int                 `json:"top_n" validate:"omitempty,min=1,max=100"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes job progress metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Format    models.ReportFormat `json:"format"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"result_url,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
