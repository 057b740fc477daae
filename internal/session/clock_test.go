package session

import (
	"testing"
	"time"
)

func TestClockSyncClampsNegatives(t *testing.T) {
	c := NewClock(time.Minute, time.Second)
	c.Sync(-5*time.Second, 30*time.Second)
	if got := c.Remaining(White); got != 0 {
		t.Fatalf("white remaining = %v, want 0", got)
	}
	if got := c.Remaining(Black); got != 30*time.Second {
		t.Fatalf("black remaining = %v", got)
	}
	if !c.FlagFallen(White) {
		t.Fatal("white flag should have fallen")
	}
	if c.FlagFallen(Black) {
		t.Fatal("black flag should not have fallen")
	}
}

func TestClockDeduct(t *testing.T) {
	c := NewClock(10*time.Second, 0)
	c.Deduct(White, 3*time.Second)
	if got := c.Remaining(White); got != 7*time.Second {
		t.Fatalf("remaining = %v, want 7s", got)
	}
	c.Deduct(White, time.Minute)
	if got := c.Remaining(White); got != 0 {
		t.Fatalf("remaining = %v, want 0 after over-deduct", got)
	}
	if got := c.Remaining(Black); got != 10*time.Second {
		t.Fatalf("black remaining touched: %v", got)
	}
}

func TestClockUntimedNeverFlags(t *testing.T) {
	c := NewClock(0, 0)
	if c.Timed() {
		t.Fatal("zero initial time should be untimed")
	}
	c.Deduct(White, time.Hour)
	if c.FlagFallen(White) {
		t.Fatal("untimed clock flagged")
	}
}
