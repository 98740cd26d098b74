package scanner

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Tone is an audible cue played by the kiosk.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
	ToneBeep    Tone = "beep"
)

// Feedback plays tones on a kiosk.
type Feedback interface {
	Play(deviceID string, tone Tone) bool
}

// TonePlayer delivers a tone to a device.
type TonePlayer interface {
	PlayTone(deviceID, tone string) error
}

// RateLimitedFeedback drops tones requested faster than one per interval per device.
type RateLimitedFeedback struct {
	player   TonePlayer
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitedFeedback wraps player. Limits are evaluated against clk.
func NewRateLimitedFeedback(player TonePlayer, interval time.Duration, clk clock.Clock, logger *zap.Logger) *RateLimitedFeedback {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedFeedback{
		player:   player,
		interval: interval,
		clock:    clk,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Play reports whether the tone was sent.
func (f *RateLimitedFeedback) Play(deviceID string, tone Tone) bool {
	if !f.limiter(deviceID).AllowN(f.clock.Now(), 1) {
		return false
	}
	if err := f.player.PlayTone(deviceID, string(tone)); err != nil {
		f.logger.Debug("tone not delivered", zap.String("device", deviceID), zap.String("tone", string(tone)), zap.Error(err))
		return false
	}
	return true
}

// Forget drops the limiter of a device whose session ended.
func (f *RateLimitedFeedback) Forget(deviceID string) {
	f.mu.Lock()
	delete(f.limiters, deviceID)
	f.mu.Unlock()
}

func (f *RateLimitedFeedback) limiter(deviceID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[deviceID]
	if !ok {
		limit := rate.Inf
		if f.interval > 0 {
			limit = rate.Every(f.interval)
		}
		lim = rate.NewLimiter(limit, 1)
		f.limiters[deviceID] = lim
	}
	return lim
}

type nopFeedback struct{}

func (nopFeedback) Play(string, Tone) bool { return false }
