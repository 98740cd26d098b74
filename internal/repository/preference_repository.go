package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

const preferenceKeyPrefix = "scanner:prefs:"

// PreferenceRepository keeps per-device scanner preferences in Redis.
type PreferenceRepository struct {
	client redis.UniversalClient
}

// NewPreferenceRepository constructs the repository.
func NewPreferenceRepository(client redis.UniversalClient) *PreferenceRepository {
	return &PreferenceRepository{client: client}
}

// PreferenceKey returns the Redis key holding a device's preferences.
func PreferenceKey(deviceID string) string {
	return preferenceKeyPrefix + strings.TrimSpace(deviceID)
}

// Get loads stored preferences; ok is false when the device has none.
func (r *PreferenceRepository) Get(ctx context.Context, deviceID string) (cfg models.ScannerConfig, ok bool, err error) {
	if r.client == nil {
		return models.ScannerConfig{}, false, nil
	}
	raw, err := r.client.Get(ctx, PreferenceKey(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.ScannerConfig{}, false, nil
		}
		return models.ScannerConfig{}, false, fmt.Errorf("get scanner preferences: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return models.ScannerConfig{}, false, fmt.Errorf("decode scanner preferences: %w", err)
	}
	return cfg, true, nil
}

// Save persists preferences without expiry.
func (r *PreferenceRepository) Save(ctx context.Context, deviceID string, cfg models.ScannerConfig) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode scanner preferences: %w", err)
	}
	if err := r.client.Set(ctx, PreferenceKey(deviceID), payload, 0).Err(); err != nil {
		return fmt.Errorf("save scanner preferences: %w", err)
	}
	return nil
}

// Delete drops the device's preferences, reverting it to defaults.
func (r *PreferenceRepository) Delete(ctx context.Context, deviceID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, PreferenceKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("delete scanner preferences: %w", err)
	}
	return nil
}
