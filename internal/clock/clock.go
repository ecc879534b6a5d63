// Package clock abstracts time for deterministic tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed returns a clock pinned to the given instant.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time { return f.At }
