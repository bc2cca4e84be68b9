// Package clock abstracts the current time so time conditions and
// post-function timestamps can be pinned in tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to the engine.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// NewRealClock returns the system clock.
func NewRealClock() Clock { return RealClock{} }

// Now returns time.Now.
func (RealClock) Now() time.Time { return time.Now() }

// FixedClock reports the same instant until Tick moves it. It is safe for
// concurrent use.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewFixedClock returns a clock stopped at t.
func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

// Now returns the current fixed instant.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Tick advances the clock by d and returns the new instant.
func (c *FixedClock) Tick(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}
