// Package clock implements the engine's single source of truth for "now":
// a monotonic, pausable, speed-adjustable virtual playback position.
package clock

import (
	"sync"
	"time"

	"github.com/zsiec/reel/block"
)

// Clock tracks a virtual playback position that advances at basePosition +
// (now-baseWall)*speed while running, and freezes at its last computed
// value while paused. All methods are safe for concurrent use; Position is
// called from every worker and the host, while Play/Pause/Reset/Update/
// SetSpeed are called from the command manager, the decoding worker's
// starvation fallback, and the rendering worker's end-of-media handler.
type Clock struct {
	mu           sync.Mutex
	baseWall     time.Time
	basePosition block.Timestamp
	speed        float64
	running      bool
}

// New creates a Clock positioned at zero, paused, at normal speed.
func New() *Clock {
	return &Clock{basePosition: block.FromDuration(0), speed: 1.0}
}

// Position returns the current playback position.
func (c *Clock) Position() block.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Clock) positionLocked() block.Timestamp {
	if !c.running {
		return c.basePosition
	}
	elapsed := time.Since(c.baseWall)
	return c.basePosition.Add(time.Duration(float64(elapsed) * c.speed))
}

// Play resumes advancing the clock from its current frozen position.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.baseWall = time.Now()
	c.running = true
}

// Pause freezes the clock at its current computed position.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.basePosition = c.positionLocked()
	c.running = false
}

// Running reports whether the clock is currently advancing.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reset stops the clock and sets its position to zero.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.basePosition = block.FromDuration(0)
}

// Update jumps the clock to pos without changing its running state, used
// by seeks and by the decoding worker's starvation fallback (move the wall
// clock to the nearest available block rather than pausing outright).
func (c *Clock) Update(pos block.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.basePosition = pos
	if c.running {
		c.baseWall = time.Now()
	}
}

// SetSpeed changes the playback rate. r must be > 0.
func (c *Clock) SetSpeed(r float64) {
	if r <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.basePosition = c.positionLocked()
	c.baseWall = time.Now()
	c.speed = r
}

// Speed returns the current playback rate.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}
