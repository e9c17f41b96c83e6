// Package system provides a real clock implementation.
package system

import "time"

// Clock implements discovery.Clock using time.Now.
type Clock struct {
	precision time.Duration
}

// New creates a new Clock. A positive precision truncates every reading,
// which keeps report timestamps stable across encoders.
func New(precision time.Duration) *Clock {
	return &Clock{precision: precision}
}

// Now returns the current UTC time.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
