package session

import "time"

// Clock tracks remaining time and increment per side. Remaining time never
// goes negative: a sync below zero clamps to zero, which reads as a flag fall.
type Clock struct {
	timed     bool
	remaining map[Color]time.Duration
	increment map[Color]time.Duration
}

// NewClock builds a clock with the same initial time and increment for both
// sides. A zero initial duration means the game is untimed and the clock never
// flags.
func NewClock(initial, increment time.Duration) *Clock {
	return &Clock{
		timed: initial > 0,
		remaining: map[Color]time.Duration{
			White: initial,
			Black: initial,
		},
		increment: map[Color]time.Duration{
			White: increment,
			Black: increment,
		},
	}
}

// Sync replaces both remaining times with authoritative values from the game
// feed, clamping negatives to zero.
func (c *Clock) Sync(white, black time.Duration) {
	if white < 0 {
		white = 0
	}
	if black < 0 {
		black = 0
	}
	c.remaining[White] = white
	c.remaining[Black] = black
}

// Deduct charges elapsed thinking time to one side, clamping at zero.
func (c *Clock) Deduct(side Color, elapsed time.Duration) {
	if !c.timed || elapsed <= 0 {
		return
	}
	rem := c.remaining[side] - elapsed
	if rem < 0 {
		rem = 0
	}
	c.remaining[side] = rem
}

func (c *Clock) Remaining(side Color) time.Duration { return c.remaining[side] }

func (c *Clock) Increment(side Color) time.Duration { return c.increment[side] }

func (c *Clock) Timed() bool { return c.timed }

// FlagFallen reports whether the given side has no time left.
func (c *Clock) FlagFallen(side Color) bool {
	return c.timed && c.remaining[side] <= 0
}
