package timex

import "time"

// Clock supplies wall-clock timestamps for entity mutations and sync
// bookkeeping. Injected so tests can pin time; production code uses
// SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a preset instant and can be advanced manually.
// Only used in tests.
type FixedClock struct {
	Current time.Time
}

func (c *FixedClock) Now() time.Time { return c.Current }

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }
