// Package clock provides the time source shared by the workflow services.
// Production code uses the wall clock; tests and the sandbox advance it.
package clock

import (
	"sync"
	"time"
)

// Clock is a wall clock with an adjustable offset.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// New creates a clock with no offset.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, shifted by the offset.
func (c *Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().UTC().Add(c.offset)
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Reset clears the offset.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}

// Offset returns the current offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
