// Package scanner runs kiosk scan sessions: it debounces decoded QR payloads,
// resolves them to students, suggests entry or exit and commits registrations.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/realtime"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

// RecentLimit is the size of the recent registrations list pushed after a commit.
const RecentLimit = 10

// Camera controls the camera of a kiosk.
type Camera interface {
	Start(ctx context.Context, deviceID string, cfg models.ScannerConfig) error
	Pause(deviceID string) error
	Resume(deviceID string) error
	Stop(deviceID string) error
}

// StudentLookup resolves decoded payloads.
type StudentLookup interface {
	GetByQRCode(ctx context.Context, code string) (*models.Student, error)
}

// Attendance suggests and writes registrations.
type Attendance interface {
	Suggest(ctx context.Context, student models.Student, threshold time.Duration) (*models.ScanResult, error)
	Register(ctx context.Context, req service.RegisterAttendanceRequest) (*models.AttendanceEvent, error)
	Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error)
}

// Emitter pushes events to a kiosk.
type Emitter interface {
	Emit(deviceID, event string, payload any) error
}

// LinkBuilder renders the guardian deep-link for a registration.
type LinkBuilder interface {
	GuardianLink(student models.Student, event models.AttendanceEvent) string
}

// Deps groups the collaborators of a scan session.
type Deps struct {
	Camera     Camera
	Students   StudentLookup
	Attendance Attendance
	Feedback   Feedback
	Emitter    Emitter
	Links      LinkBuilder
	Metrics    *service.MetricsService
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Machine is the state machine of one scan session.
// The mutex is never held across I/O; the processing flag excludes concurrent lookups and commits.
type Machine struct {
	id       string
	deviceID string
	actorID  string
	cfg      models.ScannerConfig
	deps     Deps

	mu          sync.Mutex
	state       models.ScanState
	processing  bool
	pending     *models.ScanResult
	lastText    string
	lastSeen    time.Time
	timer       *clock.Timer
	confirmAt   time.Time
	gen         uint64
	lastOutcome *models.ScanOutcome
}

// NewMachine builds an idle session for deviceID operated by actorID.
func NewMachine(id, deviceID, actorID string, cfg models.ScannerConfig, deps Deps) *Machine {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Feedback == nil {
		deps.Feedback = nopFeedback{}
	}
	if deps.Emitter == nil {
		deps.Emitter = nopEmitter{}
	}
	return &Machine{
		id:       id,
		deviceID: deviceID,
		actorID:  actorID,
		cfg:      cfg,
		deps:     deps,
		state:    models.ScanStateIdle,
	}
}

// ID returns the session id.
func (m *Machine) ID() string { return m.id }

// DeviceID returns the kiosk the session drives.
func (m *Machine) DeviceID() string { return m.deviceID }

// ActorID returns the staff member operating the session.
func (m *Machine) ActorID() string { return m.actorID }

// Start opens the camera and moves idle → scanning. A camera failure leaves the session idle.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != models.ScanStateIdle {
		m.mu.Unlock()
		return appErrors.Clone(appErrors.ErrInvalidTransition, "scanner already started")
	}
	if m.processing {
		m.mu.Unlock()
		return appErrors.Clone(appErrors.ErrScanBusy, "previous scan is still being processed")
	}
	if m.deviceID == "" {
		m.mu.Unlock()
		return appErrors.Clone(appErrors.ErrCameraUnavailable, "device id is required")
	}
	m.processing = true
	m.mu.Unlock()

	err := m.deps.Camera.Start(ctx, m.deviceID, m.cfg)

	m.mu.Lock()
	m.processing = false
	if err != nil {
		outcome := m.outcomeLocked(models.ScanOutcomeCameraErr, appErrors.FromError(err).Message, nil, "")
		m.mu.Unlock()
		m.finish(outcome, ToneError)
		if !appErrors.Is(err, appErrors.ErrCameraUnavailable) {
			err = appErrors.Wrap(err, appErrors.ErrCameraUnavailable.Code, appErrors.ErrCameraUnavailable.Status, "failed to start camera")
		}
		return err
	}
	m.state = models.ScanStateScanning
	m.lastText = ""
	m.lastSeen = time.Time{}
	m.mu.Unlock()

	m.deps.Logger.Info("scan session started", zap.String("session_id", m.id), zap.String("device", m.deviceID))
	return nil
}

// HandleDecode processes a decoded payload while scanning. Repeats of the last payload
// inside the debounce interval return (nil, nil).
func (m *Machine) HandleDecode(ctx context.Context, text string) (*models.ScanResult, error) {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	switch {
	case m.state == models.ScanStateIdle:
		m.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "scanner is not running")
	case m.state == models.ScanStateConfirming || m.processing:
		m.mu.Unlock()
		return nil, appErrors.ErrScanBusy
	case text == "":
		m.mu.Unlock()
		return nil, nil
	}
	now := m.deps.Clock.Now()
	if text == m.lastText && now.Sub(m.lastSeen) < m.cfg.Debounce {
		m.mu.Unlock()
		return nil, nil
	}
	m.lastText = text
	m.lastSeen = now
	m.processing = true
	gen := m.gen
	m.mu.Unlock()

	result, err := m.resolve(ctx, text)
	if err != nil {
		kind := models.ScanOutcomeFailed
		if appErrors.Is(err, appErrors.ErrQRNotFound) {
			kind = models.ScanOutcomeNotFound
		}
		m.mu.Lock()
		m.processing = false
		outcome := m.outcomeLocked(kind, appErrors.FromError(err).Message, nil, "")
		m.mu.Unlock()
		m.finish(outcome, ToneError)
		return nil, err
	}

	m.mu.Lock()
	m.processing = false
	if m.state != models.ScanStateScanning || m.gen != gen {
		m.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "scanner stopped during lookup")
	}
	m.state = models.ScanStateConfirming
	m.pending = result
	m.gen++
	if m.cfg.AutoConfirm {
		confirmGen := m.gen
		m.confirmAt = now.Add(m.cfg.AutoConfirmDelay)
		m.timer = m.deps.Clock.AfterFunc(m.cfg.AutoConfirmDelay, func() {
			m.autoConfirm(confirmGen)
		})
	}
	m.mu.Unlock()

	if err := m.deps.Camera.Pause(m.deviceID); err != nil {
		m.deps.Logger.Debug("camera pause failed", zap.String("device", m.deviceID), zap.Error(err))
	}
	m.emit(realtime.EventScanResult, result)
	m.deps.Metrics.RecordScanOutcome(string(models.ScanOutcomeSuggested))
	return result, nil
}

// Confirm commits the pending result, optionally overriding the suggested kind.
func (m *Machine) Confirm(ctx context.Context, kind *models.AttendanceKind) (*models.ScanOutcome, error) {
	if kind != nil {
		parsed, ok := models.ParseAttendanceKind(string(*kind))
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "kind must be entry or exit")
		}
		kind = &parsed
	}
	m.mu.Lock()
	pending, err := m.beginCommitLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.commit(ctx, pending, kind)
}

func (m *Machine) autoConfirm(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	pending, err := m.beginCommitLocked()
	m.mu.Unlock()
	if err != nil {
		return
	}
	_, _ = m.commit(context.Background(), pending, nil)
}

func (m *Machine) beginCommitLocked() (*models.ScanResult, error) {
	if m.state != models.ScanStateConfirming || m.pending == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "no scan result to confirm")
	}
	if m.processing {
		return nil, appErrors.ErrScanBusy
	}
	m.stopTimerLocked()
	m.processing = true
	return m.pending, nil
}

// commit writes the registration on a context detached from the caller so a stop does not cancel it.
func (m *Machine) commit(ctx context.Context, pending *models.ScanResult, kind *models.AttendanceKind) (*models.ScanOutcome, error) {
	chosen := pending.SuggestedKind
	if kind != nil {
		chosen = *kind
	}
	student := pending.Student
	writeCtx := context.WithoutCancel(ctx)

	event, err := m.deps.Attendance.Register(writeCtx, service.RegisterAttendanceRequest{
		StudentID: student.ID,
		Kind:      chosen,
		ActorID:   m.actorID,
		Window:    m.cfg.DuplicateWindow,
	})

	var (
		outcomeKind models.ScanOutcomeKind
		message     string
		link        string
		tone        Tone
	)
	var rejection *service.RejectionError
	switch {
	case err == nil:
		outcomeKind = models.ScanOutcomeRegistered
		message = fmt.Sprintf("%s: %s registered", student.FullName(), chosen)
		if m.deps.Links != nil {
			link = m.deps.Links.GuardianLink(student, *event)
		}
		tone = ToneSuccess
	case errors.As(err, &rejection):
		outcomeKind = models.ScanOutcomeRejected
		message = rejection.Reason
		tone = ToneError
	default:
		outcomeKind = models.ScanOutcomeFailed
		message = appErrors.FromError(err).Message
		tone = ToneError
	}

	m.mu.Lock()
	m.processing = false
	m.pending = nil
	m.confirmAt = time.Time{}
	resume := false
	if m.state == models.ScanStateConfirming {
		m.state = models.ScanStateScanning
		resume = true
	}
	outcome := m.outcomeLocked(outcomeKind, message, event, link)
	m.mu.Unlock()

	if resume {
		if rerr := m.deps.Camera.Resume(m.deviceID); rerr != nil {
			m.deps.Logger.Debug("camera resume failed", zap.String("device", m.deviceID), zap.Error(rerr))
		}
	}
	m.finish(outcome, tone)

	if err != nil {
		return outcome, err
	}
	if link != "" {
		m.emit(realtime.EventGuardianLink, map[string]string{"url": link, "student_id": student.ID})
	}
	if recent, rerr := m.deps.Attendance.Recent(writeCtx, RecentLimit); rerr == nil {
		m.emit(realtime.EventRecent, recent)
	} else {
		m.deps.Logger.Warn("failed to refresh recent registrations", zap.Error(rerr))
	}
	return outcome, nil
}

// Cancel discards the pending result and resumes scanning.
func (m *Machine) Cancel() (*models.ScanOutcome, error) {
	m.mu.Lock()
	if m.state != models.ScanStateConfirming {
		m.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "no scan result to cancel")
	}
	if m.processing {
		m.mu.Unlock()
		return nil, appErrors.ErrScanBusy
	}
	m.stopTimerLocked()
	m.gen++
	m.pending = nil
	m.confirmAt = time.Time{}
	m.state = models.ScanStateScanning
	outcome := m.outcomeLocked(models.ScanOutcomeCancelled, "", nil, "")
	m.mu.Unlock()

	if err := m.deps.Camera.Resume(m.deviceID); err != nil {
		m.deps.Logger.Debug("camera resume failed", zap.String("device", m.deviceID), zap.Error(err))
	}
	m.finish(outcome, ToneBeep)
	return outcome, nil
}

// Stop releases the camera and returns to idle. An in-flight registration still completes.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.state == models.ScanStateIdle {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.gen++
	m.pending = nil
	m.confirmAt = time.Time{}
	m.state = models.ScanStateIdle
	m.mu.Unlock()

	if err := m.deps.Camera.Stop(m.deviceID); err != nil {
		m.deps.Logger.Debug("camera stop failed", zap.String("device", m.deviceID), zap.Error(err))
	}
	m.deps.Logger.Info("scan session stopped", zap.String("session_id", m.id), zap.String("device", m.deviceID))
}

// Snapshot returns a copy of the session state.
func (m *Machine) Snapshot() models.ScanSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := models.ScanSnapshot{
		SessionID: m.id,
		DeviceID:  m.deviceID,
		State:     m.state,
		Config:    m.cfg,
	}
	if m.pending != nil {
		pending := *m.pending
		snap.Pending = &pending
	}
	if !m.confirmAt.IsZero() {
		at := m.confirmAt
		snap.ConfirmAt = &at
	}
	if m.lastOutcome != nil {
		outcome := *m.lastOutcome
		snap.LastOutcome = &outcome
	}
	return snap
}

func (m *Machine) resolve(ctx context.Context, text string) (*models.ScanResult, error) {
	student, err := m.deps.Students.GetByQRCode(ctx, text)
	if err != nil {
		return nil, err
	}
	return m.deps.Attendance.Suggest(ctx, *student, m.cfg.SuggestionThreshold)
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) outcomeLocked(kind models.ScanOutcomeKind, message string, event *models.AttendanceEvent, link string) *models.ScanOutcome {
	outcome := &models.ScanOutcome{
		Kind:     kind,
		Message:  message,
		Event:    event,
		DeepLink: link,
		At:       m.deps.Clock.Now(),
	}
	m.lastOutcome = outcome
	return outcome
}

func (m *Machine) finish(outcome *models.ScanOutcome, tone Tone) {
	m.deps.Feedback.Play(m.deviceID, tone)
	m.emit(realtime.EventScanOutcome, outcome)
	m.deps.Metrics.RecordScanOutcome(string(outcome.Kind))
}

func (m *Machine) emit(event string, payload any) {
	if err := m.deps.Emitter.Emit(m.deviceID, event, payload); err != nil {
		m.deps.Logger.Debug("scanner event not delivered", zap.String("device", m.deviceID), zap.String("event", event), zap.Error(err))
	}
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, string, any) error { return nil }
