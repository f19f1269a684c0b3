package generation

import (
	"sync"
	"time"
)

// Default throttle settings for streamed progress.
const (
	DefaultProgressMinDelta    = 5
	DefaultProgressMinInterval = 2 * time.Second
)

// Progress band the backend's own 0-100 percentage is mapped into. The
// executor owns 0-10 (preparing) and 80-100 (saving, done).
const (
	progressBandStart = 10
	progressBandWidth = 70
)

// ThrottleConfig bounds how often streamed progress reaches the store.
type ThrottleConfig struct {
	// MinDelta is the percentage increase an update must exceed.
	MinDelta int
	// MinInterval is the minimum time between applied updates.
	MinInterval time.Duration
}

// DefaultThrottleConfig returns the default 5 point / 2 second throttle.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MinDelta:    DefaultProgressMinDelta,
		MinInterval: DefaultProgressMinInterval,
	}
}

// Throttle decides which streamed progress events are applied. An event is
// applied only when progress grew by more than MinDelta AND at least
// MinInterval passed since the last applied event. The first event is
// measured against zero progress at the zero time.
type Throttle struct {
	cfg ThrottleConfig
	now func() time.Time

	mu          sync.Mutex
	lastPercent int
	lastAt      time.Time
}

// NewThrottle creates a throttle. A nil now uses time.Now.
func NewThrottle(cfg ThrottleConfig, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{cfg: cfg, now: now}
}

// Allow reports whether percent should be applied and, if so, records it.
func (t *Throttle) Allow(percent int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if percent-t.lastPercent <= t.cfg.MinDelta {
		return false
	}
	if !t.lastAt.IsZero() && now.Sub(t.lastAt) < t.cfg.MinInterval {
		return false
	}

	t.lastPercent = percent
	t.lastAt = now
	return true
}

// PhaseMessage returns the human-readable phase for a backend percentage.
func PhaseMessage(percent int) string {
	switch {
	case percent < 10:
		return "understanding prompt"
	case percent < 25:
		return "network working"
	case percent < 50:
		return "sketching"
	case percent < 75:
		return "refining"
	case percent < 95:
		return "rendering detail"
	case percent < 100:
		return "finishing"
	default:
		return "done"
	}
}

// ScaleProgress maps a backend percentage onto the task's progress scale,
// keeping it between the executor's preparing and saving steps.
func ScaleProgress(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return progressBandStart + percent*progressBandWidth/100
}
