// Package clock isolates the time source used by the liveness sweeps so
// tests can advance time deterministically instead of sleeping real seconds.
package clock

import "time"

// Clock returns the current time. Real always returns time.Now(), whose
// Time value carries a monotonic reading, so elapsed-time subtraction
// between two Real reads is immune to wall-clock adjustments.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now().
type Real struct{}

func (Real) Now() time.Time { return time.Now() }
