package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

type prefStore struct {
	mu   sync.Mutex
	data map[string]models.ScannerConfig
}

func newPrefStore() *prefStore {
	return &prefStore{data: make(map[string]models.ScannerConfig)}
}

func (p *prefStore) Get(ctx context.Context, deviceID string) (models.ScannerConfig, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.data[deviceID]
	return cfg, ok, nil
}

func (p *prefStore) Save(ctx context.Context, deviceID string, cfg models.ScannerConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[deviceID] = cfg
	return nil
}

func (p *prefStore) Delete(ctx context.Context, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, deviceID)
	return nil
}

func TestManagerOpenReplacesDeviceSession(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(f.deps, testConfig(), newPrefStore(), nil, nil)
	ctx := context.Background()

	_, err := mgr.Open(ctx, "kiosk-1", "")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	first, err := mgr.Open(ctx, "kiosk-1", "staff-1")
	require.NoError(t, err)
	second, err := mgr.Open(ctx, "kiosk-1", "staff-2")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, models.ScanStateIdle, first.Snapshot().State)
	assert.Equal(t, models.ScanStateScanning, second.Snapshot().State)
	assert.Equal(t, 1, mgr.Count())
	assert.Equal(t, []string{"start:kiosk-1", "stop:kiosk-1", "start:kiosk-1"}, f.camera.Calls())

	_, err = mgr.Get(first.ID())
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	current, ok := mgr.ForDevice("kiosk-1")
	require.True(t, ok)
	assert.Equal(t, "staff-2", current.ActorID())
}

func TestManagerConcurrentOpenOnOneDevice(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.camera.startGate = gate
	mgr := NewManager(f.deps, testConfig(), nil, nil, nil)
	ctx := context.Background()

	type opened struct {
		machine *Machine
		err     error
	}
	first := make(chan opened, 1)
	go func() {
		m, err := mgr.Open(ctx, "kiosk-1", "staff-1")
		first <- opened{m, err}
	}()
	require.Eventually(t, func() bool { return f.camera.Starting() == 1 }, time.Second, 5*time.Millisecond)

	_, err := mgr.Open(ctx, "kiosk-1", "staff-2")
	assert.True(t, appErrors.Is(err, appErrors.ErrScanBusy))

	close(gate)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, 1, mgr.Count())
	current, ok := mgr.ForDevice("kiosk-1")
	require.True(t, ok)
	assert.Equal(t, res.machine.ID(), current.ID())
	assert.Equal(t, []string{"start:kiosk-1"}, f.camera.Calls())

	again, err := mgr.Open(ctx, "kiosk-1", "staff-2")
	require.NoError(t, err)
	assert.Equal(t, "staff-2", again.ActorID())
	assert.Equal(t, 1, mgr.Count())
}

func TestManagerOpenCameraFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	f.camera.startErr = appErrors.Clone(appErrors.ErrCameraUnavailable, "kiosk is not connected")
	mgr := NewManager(f.deps, testConfig(), nil, nil, nil)

	_, err := mgr.Open(context.Background(), "kiosk-1", "staff-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrCameraUnavailable))
	assert.Equal(t, 0, mgr.Count())
}

func TestManagerRoutesDeviceDecodes(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(f.deps, testConfig(), nil, nil, nil)
	ctx := context.Background()

	owner := &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff}
	err := mgr.HandleDeviceDecode(ctx, "kiosk-1", owner, "QR-ANA")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	session, err := mgr.Open(ctx, "kiosk-1", "staff-1")
	require.NoError(t, err)

	require.NoError(t, mgr.HandleDeviceDecode(ctx, "kiosk-1", owner, "QR-ANA"))
	assert.Equal(t, models.ScanStateConfirming, session.Snapshot().State)
	require.NoError(t, mgr.HandleDeviceDecode(ctx, "kiosk-1", owner, "QR-ANA"))

	_, err = session.Cancel()
	require.NoError(t, err)
	f.clock.Add(testConfig().Debounce)
	err = mgr.HandleDeviceDecode(ctx, "kiosk-1", owner, "QR-NOBODY")
	assert.True(t, appErrors.Is(err, appErrors.ErrQRNotFound))

	require.NoError(t, mgr.Close(session.ID()))
	assert.True(t, appErrors.Is(mgr.Close(session.ID()), appErrors.ErrNotFound))
	assert.Equal(t, models.ScanStateIdle, session.Snapshot().State)
}

func TestManagerDeviceDecodeRequiresSessionOwner(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(f.deps, testConfig(), nil, nil, nil)
	ctx := context.Background()

	session, err := mgr.Open(ctx, "kiosk-1", "staff-1")
	require.NoError(t, err)

	err = mgr.HandleDeviceDecode(ctx, "kiosk-1", &models.JWTClaims{UserID: "staff-2", Role: models.RoleStaff}, "QR-ANA")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.True(t, appErrors.Is(mgr.HandleDeviceDecode(ctx, "kiosk-1", nil, "QR-ANA"), appErrors.ErrUnauthorized))
	assert.Equal(t, models.ScanStateScanning, session.Snapshot().State)

	require.NoError(t, mgr.HandleDeviceDecode(ctx, "kiosk-1", &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, "QR-ANA"))
	assert.Equal(t, models.ScanStateConfirming, session.Snapshot().State)
}

func TestManagerPreferences(t *testing.T) {
	f := newFixture(t)
	prefs := newPrefStore()
	mgr := NewManager(f.deps, testConfig(), prefs, nil, nil)
	ctx := context.Background()

	cfg, err := mgr.Config(ctx, "kiosk-1")
	require.NoError(t, err)
	assert.Equal(t, testConfig(), cfg)

	invalid := testConfig()
	invalid.FPS = 0
	_, err = mgr.SavePreferences(ctx, "kiosk-1", invalid)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	_, err = mgr.SavePreferences(ctx, " ", testConfig())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	custom := testConfig()
	custom.FPS = 24
	custom.AutoConfirm = true
	_, err = mgr.SavePreferences(ctx, "kiosk-1", custom)
	require.NoError(t, err)

	session, err := mgr.Open(ctx, "kiosk-1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, 24, session.Snapshot().Config.FPS)
	assert.True(t, session.Snapshot().Config.AutoConfirm)

	require.NoError(t, mgr.ResetPreferences(ctx, "kiosk-1"))
	cfg, err = mgr.Config(ctx, "kiosk-1")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.FPS)

	mgr.CloseAll()
	assert.Equal(t, 0, mgr.Count())
	assert.Equal(t, models.ScanStateIdle, session.Snapshot().State)
}
