package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qr-attendance-api/internal/dto"
	"github.com/noah-isme/qr-attendance-api/internal/middleware"
	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/scanner"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
	"github.com/noah-isme/qr-attendance-api/pkg/response"
)

type scanSessions interface {
	Open(ctx context.Context, deviceID, actorID string) (*scanner.Machine, error)
	Get(id string) (*scanner.Machine, error)
	Close(id string) error
	Config(ctx context.Context, deviceID string) (models.ScannerConfig, error)
	SavePreferences(ctx context.Context, deviceID string, cfg models.ScannerConfig) (models.ScannerConfig, error)
	ResetPreferences(ctx context.Context, deviceID string) error
}

// ScannerHandler drives kiosk scan sessions over HTTP.
type ScannerHandler struct {
	sessions scanSessions
}

// NewScannerHandler constructs the handler.
func NewScannerHandler(sessions scanSessions) *ScannerHandler {
	return &ScannerHandler{sessions: sessions}
}

// Start godoc
// @Summary Start a scan session on a kiosk
// @Tags Scanner
// @Accept json
// @Produce json
// @Param payload body dto.StartScanRequest true "Kiosk"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Camera unavailable"
// @Router /scanner/sessions [post]
func (h *ScannerHandler) Start(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.StartScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "device_id is required"))
		return
	}
	machine, err := h.sessions.Open(c.Request.Context(), req.DeviceID, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, machine.Snapshot())
}

// Get godoc
// @Summary Scan session state
// @Tags Scanner
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /scanner/sessions/{id} [get]
func (h *ScannerHandler) Get(c *gin.Context) {
	machine, err := h.session(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, machine.Snapshot(), nil)
}

// Decode godoc
// @Summary Submit a decoded QR payload
// @Tags Scanner
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.DecodeRequest true "Decoded text"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope "Unknown QR code"
// @Failure 409 {object} response.Envelope "A result is pending"
// @Router /scanner/sessions/{id}/decode [post]
func (h *ScannerHandler) Decode(c *gin.Context) {
	machine, err := h.session(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "text is required"))
		return
	}
	result, err := machine.HandleDecode(c.Request.Context(), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "debounced", result == nil)
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// Confirm godoc
// @Summary Confirm the pending scan result
// @Tags Scanner
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.ConfirmScanRequest false "Kind override"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Duplicate registration"
// @Router /scanner/sessions/{id}/confirm [post]
func (h *ScannerHandler) Confirm(c *gin.Context) {
	machine, err := h.session(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ConfirmScanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "kind must be entry or exit"))
			return
		}
	}
	var kind *models.AttendanceKind
	if req.Kind != nil {
		k := models.AttendanceKind(*req.Kind)
		kind = &k
	}
	outcome, err := machine.Confirm(c.Request.Context(), kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Cancel godoc
// @Summary Discard the pending scan result
// @Tags Scanner
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /scanner/sessions/{id}/cancel [post]
func (h *ScannerHandler) Cancel(c *gin.Context) {
	machine, err := h.session(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, err := machine.Cancel()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Stop godoc
// @Summary Stop a scan session and release the camera
// @Tags Scanner
// @Param id path string true "Session ID"
// @Success 204
// @Router /scanner/sessions/{id} [delete]
func (h *ScannerHandler) Stop(c *gin.Context) {
	machine, err := h.session(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.sessions.Close(machine.ID()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GetPreferences godoc
// @Summary Scanner preferences of a kiosk
// @Tags Scanner
// @Produce json
// @Param device path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Router /scanner/preferences/{device} [get]
func (h *ScannerHandler) GetPreferences(c *gin.Context) {
	cfg, err := h.sessions.Config(c.Request.Context(), c.Param("device"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PreferencesFromConfig(cfg), nil)
}

// PutPreferences godoc
// @Summary Store scanner preferences of a kiosk
// @Tags Scanner
// @Accept json
// @Produce json
// @Param device path string true "Device ID"
// @Param payload body dto.ScannerPreferences true "Preferences"
// @Success 200 {object} response.Envelope
// @Router /scanner/preferences/{device} [put]
func (h *ScannerHandler) PutPreferences(c *gin.Context) {
	var req dto.ScannerPreferences
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preferences"))
		return
	}
	cfg, err := h.sessions.SavePreferences(c.Request.Context(), c.Param("device"), req.ToConfig())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PreferencesFromConfig(cfg), nil)
}

// ResetPreferences godoc
// @Summary Restore default scanner preferences of a kiosk
// @Tags Scanner
// @Param device path string true "Device ID"
// @Success 204
// @Router /scanner/preferences/{device} [delete]
func (h *ScannerHandler) ResetPreferences(c *gin.Context) {
	if err := h.sessions.ResetPreferences(c.Request.Context(), c.Param("device")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// session loads the path session; staff may only drive sessions they opened.
func (h *ScannerHandler) session(c *gin.Context) (*scanner.Machine, error) {
	claims, err := requireClaims(c)
	if err != nil {
		return nil, err
	}
	machine, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !claims.CanActFor(machine.ActorID()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "scan session belongs to another staff member")
	}
	return machine, nil
}
