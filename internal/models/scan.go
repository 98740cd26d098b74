package models

import "time"

// ScanState enumerates the scan workflow states.
type ScanState string

const (
	ScanStateIdle       ScanState = "idle"
	ScanStateScanning   ScanState = "scanning"
	ScanStateConfirming ScanState = "confirming"
)

// LastRegistration summarises a student's most recent event.
type LastRegistration struct {
	Kind       AttendanceKind `json:"kind"`
	RecordedAt time.Time      `json:"recorded_at"`
	MinutesAgo int            `json:"minutes_ago"`
}

// ScanResult is the transient outcome of resolving a decoded QR payload.
type ScanResult struct {
	Student       Student           `json:"student"`
	SuggestedKind AttendanceKind    `json:"suggested_kind"`
	VeryRecent    bool              `json:"very_recent"`
	Last          *LastRegistration `json:"last,omitempty"`
	ScannedAt     time.Time         `json:"scanned_at"`
}

// ScannerConfig tunes one scan session.
type ScannerConfig struct {
	FPS                 int           `json:"fps" validate:"min=1,max=60"`
	QRBox               int           `json:"qrbox" validate:"min=50,max=1000"`
	Debounce            time.Duration `json:"debounce" validate:"min=0"`
	AutoConfirm         bool          `json:"auto_confirm"`
	AutoConfirmDelay    time.Duration `json:"auto_confirm_delay" validate:"min=0"`
	DuplicateWindow     time.Duration `json:"duplicate_window" validate:"min=0"`
	SuggestionThreshold time.Duration `json:"suggestion_threshold" validate:"min=0"`
}

// ScanOutcomeKind labels the terminal result of a scan step.
type ScanOutcomeKind string

const (
	ScanOutcomeSuggested  ScanOutcomeKind = "suggested"
	ScanOutcomeRegistered ScanOutcomeKind = "registered"
	ScanOutcomeRejected   ScanOutcomeKind = "rejected"
	ScanOutcomeFailed     ScanOutcomeKind = "failed"
	ScanOutcomeNotFound   ScanOutcomeKind = "not_found"
	ScanOutcomeCancelled  ScanOutcomeKind = "cancelled"
	ScanOutcomeCameraErr  ScanOutcomeKind = "camera_unavailable"
)

// ScanOutcome is what the kiosk shows after a step.
type ScanOutcome struct {
	Kind     ScanOutcomeKind  `json:"kind"`
	Message  string           `json:"message,omitempty"`
	Event    *AttendanceEvent `json:"event,omitempty"`
	DeepLink string           `json:"deep_link,omitempty"`
	At       time.Time        `json:"at"`
}

// ScanSnapshot is a read-only view of a scan session.
type ScanSnapshot struct {
	SessionID   string        `json:"session_id"`
	DeviceID    string        `json:"device_id"`
	State       ScanState     `json:"state"`
	Pending     *ScanResult   `json:"pending,omitempty"`
	ConfirmAt   *time.Time    `json:"confirm_at,omitempty"`
	LastOutcome *ScanOutcome  `json:"last_outcome,omitempty"`
	Config      ScannerConfig `json:"config"`
}
