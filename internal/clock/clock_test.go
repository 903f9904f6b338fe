package clock

import (
	"testing"
	"time"
)

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	var c Monotonic
	prev := c.Now()
	if prev <= 0 {
		t.Fatalf("Expected positive monotonic reading, got %v", prev)
	}
	for i := 0; i < 1000; i++ {
		now := c.Now()
		if now < prev {
			t.Fatalf("Monotonic clock went backwards: %v -> %v", prev, now)
		}
		prev = now
	}
}

func TestManualAdvance(t *testing.T) {
	c := NewManual(time.Second)
	if got := c.Advance(250 * time.Millisecond); got != 1250*time.Millisecond {
		t.Errorf("Expected 1.25s, got %v", got)
	}
	c.Set(5 * time.Second)
	if got := c.Now(); got != 5*time.Second {
		t.Errorf("Expected 5s, got %v", got)
	}
}
