package dispatch

import (
	"testing"
	"time"
)

const (
	testBase      = 10 * time.Second
	testSlow      = 2 * time.Minute
	testHighWater = 30 * time.Second
)

func newTestController() *intervalController {
	return newIntervalController(testBase, testSlow, testHighWater)
}

func TestIntervalController_BacksOffAfterThreeEmptyPolls(t *testing.T) {
	t.Parallel()

	c := newTestController()

	if c.ObserveEmpty() {
		t.Fatal("first empty poll must not change cadence")
	}
	if c.ObserveEmpty() {
		t.Fatal("second empty poll must not change cadence")
	}
	if c.Current() != testBase {
		t.Fatalf("interval = %v, want base %v", c.Current(), testBase)
	}

	if !c.ObserveEmpty() {
		t.Fatal("third consecutive empty poll must switch to slow cadence")
	}
	if c.Current() != testSlow {
		t.Fatalf("interval = %v, want slow %v", c.Current(), testSlow)
	}
}

func TestIntervalController_BusyPollRestoresBase(t *testing.T) {
	t.Parallel()

	c := newTestController()
	for i := 0; i < emptyStreakLimit; i++ {
		c.ObserveEmpty()
	}
	if c.Current() != testSlow {
		t.Fatalf("setup: interval = %v, want slow", c.Current())
	}

	if !c.ObserveBusy() {
		t.Fatal("non-empty poll above base must restore base cadence")
	}
	if c.Current() != testBase {
		t.Fatalf("interval = %v, want base %v", c.Current(), testBase)
	}

	if c.ObserveBusy() {
		t.Fatal("non-empty poll at base must not report a change")
	}
}

func TestIntervalController_BusyPollResetsStreak(t *testing.T) {
	t.Parallel()

	c := newTestController()
	c.ObserveEmpty()
	c.ObserveEmpty()
	c.ObserveBusy()

	// Streak restarted: two more empties are not enough.
	c.ObserveEmpty()
	if c.ObserveEmpty() {
		t.Fatal("streak must restart after a non-empty poll")
	}
	if c.Current() != testBase {
		t.Fatalf("interval = %v, want base %v", c.Current(), testBase)
	}
}

func TestIntervalController_NoBackoffAboveHighWater(t *testing.T) {
	t.Parallel()

	c := newTestController()
	c.Force(time.Minute) // already above the high-water mark

	for i := 0; i < emptyStreakLimit+2; i++ {
		if c.ObserveEmpty() {
			t.Fatal("cadence at or above high water must not be raised again")
		}
	}
	if c.Current() != time.Minute {
		t.Fatalf("interval = %v, want forced %v", c.Current(), time.Minute)
	}
}

func TestIntervalController_ForceClampsToMinimum(t *testing.T) {
	t.Parallel()

	c := newTestController()

	if got := c.Force(200 * time.Millisecond); got != minInterval {
		t.Fatalf("Force(200ms) applied %v, want clamp to %v", got, minInterval)
	}
	if c.Current() != minInterval {
		t.Fatalf("interval = %v, want %v", c.Current(), minInterval)
	}

	if got := c.Force(45 * time.Second); got != 45*time.Second {
		t.Fatalf("Force(45s) applied %v, want 45s", got)
	}
}
