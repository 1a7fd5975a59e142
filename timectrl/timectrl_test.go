package timectrl

import (
	"testing"
	"time"
)

func TestClockAdvanceTo(t *testing.T) {
	c := NewClock(0)

	if !c.AdvanceTo(42 * TicksPerSecond) {
		t.Fatalf("AdvanceTo forward returned false")
	}
	if got := c.Now(); got != 42*TicksPerSecond {
		t.Fatalf("Now() = %d, want %d", got, 42*TicksPerSecond)
	}
	if c.AdvanceTo(TicksPerSecond) {
		t.Fatalf("AdvanceTo backwards returned true")
	}
	if got := c.Now(); got != 42*TicksPerSecond {
		t.Fatalf("clock moved backwards to %d", got)
	}
}

func TestClockListenersOnlyOnForwardMove(t *testing.T) {
	c := NewClock(10)
	var seen []Ticks
	c.AddListener(func(now Ticks) { seen = append(seen, now) })

	c.AdvanceTo(10)
	c.AdvanceTo(20)
	c.AdvanceTo(5)
	c.AdvanceTo(30)

	if len(seen) != 2 || seen[0] != 20 || seen[1] != 30 {
		t.Fatalf("listener saw %v, want [20 30]", seen)
	}
}

func TestConversions(t *testing.T) {
	if got := Seconds(3 * TicksPerSecond / 2); got != 1.5 {
		t.Fatalf("Seconds = %v, want 1.5", got)
	}
	if got := FromSeconds(300); got != 300*TicksPerSecond {
		t.Fatalf("FromSeconds(300) = %d", got)
	}
	if got := FromDuration(2 * time.Millisecond); got != TicksPerSecond/500 {
		t.Fatalf("FromDuration(2ms) = %d, want %d", got, TicksPerSecond/500)
	}
	if got := (5 * TicksPerSecond).Duration(); got != 5*time.Second {
		t.Fatalf("Duration() = %v, want 5s", got)
	}
}

func TestPacerRealTimeSleepsUntilTarget(t *testing.T) {
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	p := NewPacer(RealTime, 0)
	p.start = base
	p.now = func() time.Time { return base.Add(250 * time.Millisecond) }

	var slept time.Duration
	p.sleep = func(d time.Duration) { slept += d }

	p.Wait(TicksPerSecond)
	if slept != 750*time.Millisecond {
		t.Fatalf("slept %v, want 750ms", slept)
	}
}

func TestPacerAcceleratedNeverSleeps(t *testing.T) {
	p := NewPacer(Accelerated, 0)
	p.sleep = func(time.Duration) { t.Fatalf("accelerated pacer must not sleep") }
	p.Wait(1000 * TicksPerSecond)

	var nilPacer *Pacer
	nilPacer.Wait(TicksPerSecond)
}
