package dto

import (
	"time"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

// StartScanRequest opens a scan session on a kiosk.
type StartScanRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

// DecodeRequest carries a payload decoded by the kiosk camera.
type DecodeRequest struct {
	Text string `json:"text" binding:"required"`
}

// ConfirmScanRequest optionally overrides the suggested kind.
type ConfirmScanRequest struct {
	Kind *string `json:"kind" binding:"omitempty,oneof=entry exit ENTRY EXIT"`
}

// ScannerPreferences is the wire form of a scanner configuration; durations are milliseconds.
type ScannerPreferences struct {
	FPS                   int   `json:"fps" binding:"required"`
	QRBox                 int   `json:"qrbox" binding:"required"`
	DebounceMS            int64 `json:"debounce_ms"`
	AutoConfirm           bool  `json:"auto_confirm"`
	AutoConfirmDelayMS    int64 `json:"auto_confirm_delay_ms"`
	DuplicateWindowMS     int64 `json:"duplicate_window_ms"`
	SuggestionThresholdMS int64 `json:"suggestion_threshold_ms"`
}

// ToConfig converts the payload to a scanner configuration.
func (p ScannerPreferences) ToConfig() models.ScannerConfig {
	return models.ScannerConfig{
		FPS:                 p.FPS,
		QRBox:               p.QRBox,
		Debounce:            time.Duration(p.DebounceMS) * time.Millisecond,
		AutoConfirm:         p.AutoConfirm,
		AutoConfirmDelay:    time.Duration(p.AutoConfirmDelayMS) * time.Millisecond,
		DuplicateWindow:     time.Duration(p.DuplicateWindowMS) * time.Millisecond,
		SuggestionThreshold: time.Duration(p.SuggestionThresholdMS) * time.Millisecond,
	}
}

// PreferencesFromConfig renders a configuration for the wire.
func PreferencesFromConfig(cfg models.ScannerConfig) ScannerPreferences {
	return ScannerPreferences{
		FPS:                   cfg.FPS,
		QRBox:                 cfg.QRBox,
		DebounceMS:            cfg.Debounce.Milliseconds(),
		AutoConfirm:           cfg.AutoConfirm,
		AutoConfirmDelayMS:    cfg.AutoConfirmDelay.Milliseconds(),
		DuplicateWindowMS:     cfg.DuplicateWindow.Milliseconds(),
		SuggestionThresholdMS: cfg.SuggestionThreshold.Milliseconds(),
	}
}
