package loyalty

import "time"

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock supplies the current instant. The engines never read wall-clock time
// directly; callers inject a Clock so tests can pin "now" to any date.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
