package data

import (
	"sync"
	"time"
)

// TimeProvider provides the clock that expiration policies are evaluated against.
type TimeProvider interface {
	// Now returns the current time
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using real system time.
type RealTimeProvider struct{}

// Now returns the current system time in UTC.
func (r *RealTimeProvider) Now() time.Time {
	return time.Now().UTC()
}

// FixedTimeProvider implements TimeProvider with a settable time for testing.
// It is safe for concurrent use.
type FixedTimeProvider struct {
	mu        sync.Mutex
	fixedTime time.Time
}

// NewFixedTimeProvider creates a new FixedTimeProvider with the given time.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{fixedTime: t}
}

// Now returns the fixed time.
func (f *FixedTimeProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fixedTime
}

// SetTime updates the fixed time (useful for testing time progression).
func (f *FixedTimeProvider) SetTime(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixedTime = t
}

// AddTime adds a duration to the current fixed time.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixedTime = f.fixedTime.Add(d)
}
