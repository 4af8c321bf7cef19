package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/ferrite-media/ferrite/internal/logger"
)

// Throttler slows the probe pipeline down when the host CPU is saturated,
// so a background scan never starves an active playback session. It samples
// system CPU usage at most once per second and makes workers back off while
// usage sits above the configured threshold.
type Throttler struct {
	enabled   bool
	threshold float64

	mu        sync.Mutex
	lastCheck time.Time
	lastBusy  bool
}

// NewThrottler creates a throttler. A nil-safe disabled throttler is returned
// when enabled is false.
func NewThrottler(enabled bool, threshold float64) *Throttler {
	if threshold <= 0 {
		threshold = 85.0
	}
	return &Throttler{enabled: enabled, threshold: threshold}
}

// Wait blocks until the CPU has headroom or the context is cancelled.
func (t *Throttler) Wait(ctx context.Context) {
	if t == nil || !t.enabled {
		return
	}
	for t.busy() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (t *Throttler) busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Since(t.lastCheck) < time.Second {
		return t.lastBusy
	}
	t.lastCheck = time.Now()

	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		t.lastBusy = false
		return false
	}
	busy := percents[0] > t.threshold
	if busy && !t.lastBusy {
		logger.Debug("scan throttled, cpu above threshold", "cpu", percents[0], "threshold", t.threshold)
	}
	t.lastBusy = busy
	return busy
}
