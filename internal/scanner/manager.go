package scanner

import (
	"context"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

// PreferenceStore persists per-device scanner overrides.
type PreferenceStore interface {
	Get(ctx context.Context, deviceID string) (models.ScannerConfig, bool, error)
	Save(ctx context.Context, deviceID string, cfg models.ScannerConfig) error
	Delete(ctx context.Context, deviceID string) error
}

type forgetter interface {
	Forget(deviceID string)
}

// Manager owns the scan sessions of the process, at most one per device.
type Manager struct {
	deps      Deps
	defaults  models.ScannerConfig
	prefs     PreferenceStore
	validator *validator.Validate
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Machine
	byDevice map[string]string
	opening  map[string]bool
}

// NewManager builds a session manager.
func NewManager(deps Deps, defaults models.ScannerConfig, prefs PreferenceStore, validate *validator.Validate, logger *zap.Logger) *Manager {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Manager{
		deps:      deps,
		defaults:  defaults,
		prefs:     prefs,
		validator: validate,
		logger:    logger,
		sessions:  make(map[string]*Machine),
		byDevice:  make(map[string]string),
		opening:   make(map[string]bool),
	}
}

// Defaults returns the configured scanner defaults.
func (m *Manager) Defaults() models.ScannerConfig {
	return m.defaults
}

// Config returns the device's stored preferences, or the defaults.
func (m *Manager) Config(ctx context.Context, deviceID string) (models.ScannerConfig, error) {
	if m.prefs == nil || deviceID == "" {
		return m.defaults, nil
	}
	cfg, ok, err := m.prefs.Get(ctx, deviceID)
	if err != nil {
		return m.defaults, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scanner preferences")
	}
	if !ok {
		return m.defaults, nil
	}
	return cfg, nil
}

// SavePreferences validates and stores overrides for deviceID.
func (m *Manager) SavePreferences(ctx context.Context, deviceID string, cfg models.ScannerConfig) (models.ScannerConfig, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return models.ScannerConfig{}, appErrors.Clone(appErrors.ErrValidation, "device id is required")
	}
	if err := m.validator.Struct(cfg); err != nil {
		return models.ScannerConfig{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scanner preferences")
	}
	if m.prefs == nil {
		return models.ScannerConfig{}, appErrors.Clone(appErrors.ErrInternal, "preference storage is not configured")
	}
	if err := m.prefs.Save(ctx, deviceID, cfg); err != nil {
		return models.ScannerConfig{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save scanner preferences")
	}
	return cfg, nil
}

// ResetPreferences drops the device's overrides.
func (m *Manager) ResetPreferences(ctx context.Context, deviceID string) error {
	if m.prefs == nil {
		return nil
	}
	if err := m.prefs.Delete(ctx, deviceID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset scanner preferences")
	}
	return nil
}

// Open starts a session on deviceID for actorID, replacing any previous session of the device.
// Opens for one device are serialized; a concurrent Open fails with ErrScanBusy.
func (m *Manager) Open(ctx context.Context, deviceID, actorID string) (*Machine, error) {
	deviceID = strings.TrimSpace(deviceID)
	if actorID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "an authenticated staff member is required")
	}
	cfg, err := m.Config(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.opening[deviceID] {
		m.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrScanBusy, "a scan session is already opening on this device")
	}
	m.opening[deviceID] = true
	var previous *Machine
	if id, ok := m.byDevice[deviceID]; ok {
		previous = m.sessions[id]
		delete(m.sessions, id)
		delete(m.byDevice, deviceID)
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.opening, deviceID)
		m.mu.Unlock()
	}()
	if previous != nil {
		previous.Stop()
	}

	machine := NewMachine(uuid.NewString(), deviceID, actorID, cfg, m.deps)
	if err := machine.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[machine.ID()] = machine
	m.byDevice[deviceID] = machine.ID()
	m.mu.Unlock()

	m.logger.Info("scan session opened", zap.String("session_id", machine.ID()), zap.String("device", deviceID), zap.String("actor", actorID))
	return machine, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.sessions[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "scan session not found")
	}
	return machine, nil
}

// ForDevice returns the active session of deviceID.
func (m *Manager) ForDevice(deviceID string) (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDevice[deviceID]
	if !ok {
		return nil, false
	}
	machine, ok := m.sessions[id]
	return machine, ok
}

// HandleDeviceDecode routes a payload decoded by a kiosk to its session.
// Only the session owner or an admin may feed it. Debounced and busy decodes are not errors.
func (m *Manager) HandleDeviceDecode(ctx context.Context, deviceID string, actor *models.JWTClaims, text string) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "an authenticated staff member is required")
	}
	machine, ok := m.ForDevice(deviceID)
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "no scan session for device")
	}
	if !actor.CanActFor(machine.ActorID()) {
		return appErrors.Clone(appErrors.ErrForbidden, "scan session belongs to another staff member")
	}
	_, err := machine.HandleDecode(ctx, text)
	if appErrors.Is(err, appErrors.ErrScanBusy) {
		return nil
	}
	return err
}

// Close stops and forgets a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	machine, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return appErrors.Clone(appErrors.ErrNotFound, "scan session not found")
	}
	delete(m.sessions, id)
	if m.byDevice[machine.DeviceID()] == id {
		delete(m.byDevice, machine.DeviceID())
	}
	m.mu.Unlock()

	machine.Stop()
	if f, ok := m.deps.Feedback.(forgetter); ok {
		f.Forget(machine.DeviceID())
	}
	return nil
}

// CloseAll stops every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	machines := make([]*Machine, 0, len(m.sessions))
	for _, machine := range m.sessions {
		machines = append(machines, machine)
	}
	m.sessions = make(map[string]*Machine)
	m.byDevice = make(map[string]string)
	m.mu.Unlock()

	for _, machine := range machines {
		machine.Stop()
	}
}

// Count reports the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
