package dispatch

import "time"

// minInterval is the floor applied to externally forced cadences.
const minInterval = time.Second

// emptyStreakLimit is how many consecutive empty polls it takes before the
// controller backs off to the slow cadence.
const emptyStreakLimit = 3

// intervalController adapts the polling cadence to recent queue occupancy.
// It is a two-level hysteresis, not a backoff curve: a single empty poll
// never changes the cadence, and any non-empty poll restores the base one.
type intervalController struct {
	base      time.Duration
	slow      time.Duration
	highWater time.Duration

	current     time.Duration
	emptyStreak int
}

func newIntervalController(base, slow, highWater time.Duration) *intervalController {
	return &intervalController{
		base:      base,
		slow:      slow,
		highWater: highWater,
		current:   base,
	}
}

func (c *intervalController) Current() time.Duration { return c.current }

// ObserveEmpty records a poll that returned no rows. It reports whether the
// cadence changed as a result.
func (c *intervalController) ObserveEmpty() bool {
	c.emptyStreak++
	if c.emptyStreak >= emptyStreakLimit && c.current < c.highWater {
		c.current = c.slow
		return true
	}
	return false
}

// ObserveBusy records a poll that returned at least one row.
func (c *intervalController) ObserveBusy() bool {
	c.emptyStreak = 0
	if c.current > c.base {
		c.current = c.base
		return true
	}
	return false
}

// Force overrides the cadence from the control surface, clamped to
// minInterval. It returns the value actually applied.
func (c *intervalController) Force(d time.Duration) time.Duration {
	if d < minInterval {
		d = minInterval
	}
	c.current = d
	c.emptyStreak = 0
	return d
}
