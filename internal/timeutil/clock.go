// Package timeutil abstracts wall-clock reads so run timings can be tested.
package timeutil

import (
	"sync"
	"time"
)

// Clock reads the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns time.Since(t).
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a manually controlled clock for testing. With a non-zero
// step every Now call moves the clock forward by step after reading it.
type MockClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	reads int
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// NewSteppingClock creates a MockClock that advances by step on every read.
func NewSteppingClock(t time.Time, step time.Duration) *MockClock {
	return &MockClock{now: t, step: step}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	c.reads++
	return now
}

// Set sets the mock clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the duration between t and the current mocked time without
// stepping the clock.
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

// Reads returns how many times Now was called.
func (c *MockClock) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
