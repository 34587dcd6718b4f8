// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock satisfies proxy.Clock, upstream.Clock and auth.Clock with UTC wall time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. The probe CLI uses it to stamp a
// whole report with one time.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}
