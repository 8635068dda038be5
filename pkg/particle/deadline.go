package particle

import (
	"sync"
	"time"
)

// Deadline is the absolute expiry of a particle: timestamp + TTL,
// saturating on overflow. It carries no state and verifies nothing — it's
// a pure value, deliberately kept separate from Particle so the plumber
// and the actor can both compute it without depending on each other.
type Deadline uint64

// DeadlineFrom computes the deadline of a particle.
func DeadlineFrom(p *Particle) Deadline {
	sum := p.TimestampMS + uint64(p.TTLMS)
	if sum < p.TimestampMS {
		// overflow: saturate instead of wrapping
		return Deadline(^uint64(0))
	}
	return Deadline(sum)
}

// IsExpired reports whether now has reached or passed the deadline.
func (d Deadline) IsExpired(nowMS uint64) bool {
	return nowMS >= uint64(d)
}

// Clock abstracts wall-clock time so tests can control it explicitly
// instead of reaching for a global. Production code uses SystemClock;
// tests use ManualClock.
type Clock interface {
	NowMS() uint64
}

// SystemClock reads the OS clock.
type SystemClock struct{}

// NowMS returns the current time in milliseconds since the Unix epoch.
func (SystemClock) NowMS() uint64 {
	return uint64(time.Now().UnixMilli())
}

// ManualClock is a settable clock for deterministic tests, replacing the
// Rust test suite's thread_local mock-time module with an explicit value
// instead of a global.
type ManualClock struct {
	mu sync.Mutex
	ms uint64
}

// NewManualClock creates a clock starting at the given time.
func NewManualClock(startMS uint64) *ManualClock {
	return &ManualClock{ms: startMS}
}

// NowMS returns the current mocked time.
func (c *ManualClock) NowMS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

// Set overwrites the mocked time.
func (c *ManualClock) Set(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms = ms
}

// Advance moves the mocked time forward by delta milliseconds.
func (c *ManualClock) Advance(delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += delta
}
