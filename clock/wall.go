package clock

import (
	"sync"
	"time"
)

// WallClock derives the playback position from wall time. Used when the
// pipeline has no audio stream to drive an AudioClock.
type WallClock struct {
	mu          sync.Mutex
	accumulated time.Duration
	anchor      time.Time
	running     bool
}

// NewWallClock returns a running clock at position zero.
func NewWallClock() *WallClock {
	return &WallClock{anchor: time.Now(), running: true}
}

// Position returns the accumulated running time.
func (c *WallClock) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return c.accumulated + time.Since(c.anchor)
	}
	return c.accumulated
}

// Pause freezes the position. Pausing an already paused clock is a no-op.
func (c *WallClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.accumulated += time.Since(c.anchor)
		c.running = false
	}
}

// Resume continues advancing from the current position. Resuming a running
// clock is a no-op.
func (c *WallClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		c.anchor = time.Now()
		c.running = true
	}
}

// Paused reports whether the clock is currently frozen.
func (c *WallClock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running
}

// ResetTo moves the clock to pos. The running/paused state is preserved.
func (c *WallClock) ResetTo(pos time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accumulated = pos
	c.anchor = time.Now()
}
