package data

import (
	"sync"
	"time"
)

// TimeProvider supplies the timestamps written into documents so tests can pin them.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using real system time.
type RealTimeProvider struct{}

// Now returns the current system time.
func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider implements TimeProvider with a controllable clock for testing.
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

// SetTime updates the fixed time.
func (f *FixedTimeProvider) SetTime(t time.Time) {
	f.mu.Lock()
	f.fixedTime = t
	f.mu.Unlock()
}

// AddTime advances the fixed time by d.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.mu.Lock()
	f.fixedTime = f.fixedTime.Add(d)
	f.mu.Unlock()
}
