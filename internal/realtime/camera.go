package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

// DeviceCamera drives the camera of a kiosk through its websocket.
type DeviceCamera struct {
	hub *Hub
}

// NewDeviceCamera builds a camera controller on top of hub.
func NewDeviceCamera(hub *Hub) *DeviceCamera {
	return &DeviceCamera{hub: hub}
}

// Start asks the device to open its camera with the session's decoder settings.
func (d *DeviceCamera) Start(ctx context.Context, deviceID string, cfg models.ScannerConfig) error {
	if deviceID == "" || !d.hub.Connected(deviceID) {
		return appErrors.Clone(appErrors.ErrCameraUnavailable, fmt.Sprintf("device %q is not connected", deviceID))
	}
	payload := map[string]int{"fps": cfg.FPS, "qrbox": cfg.QRBox}
	if err := d.hub.Emit(deviceID, EventCameraStart, payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCameraUnavailable.Code, appErrors.ErrCameraUnavailable.Status, "failed to start camera")
	}
	return nil
}

// Pause stops decoding while a result is being confirmed.
func (d *DeviceCamera) Pause(deviceID string) error {
	return d.hub.Emit(deviceID, EventCameraPause, nil)
}

// Resume restarts decoding.
func (d *DeviceCamera) Resume(deviceID string) error {
	return d.hub.Emit(deviceID, EventCameraResume, nil)
}

// Stop releases the camera.
func (d *DeviceCamera) Stop(deviceID string) error {
	err := d.hub.Emit(deviceID, EventCameraStop, nil)
	if errors.Is(err, ErrDeviceNotConnected) {
		return nil
	}
	return err
}
