package core

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestNoiseModelEmptyTraceUsesDefaultFloor(t *testing.T) {
	nm := NewNoiseModel()
	if err := nm.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for range 5 {
		v, err := nm.Sample(rng)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if v != DefaultNoiseFloorDBm {
			t.Fatalf("Sample = %v, want %d", v, DefaultNoiseFloorDBm)
		}
	}
}

func TestNoiseModelBuildOnce(t *testing.T) {
	nm := NewNoiseModel()
	_ = nm.AddReading(-98)
	if err := nm.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := nm.Build(); !errors.Is(err, ErrNoiseModelBuilt) {
		t.Fatalf("second Build error = %v, want ErrNoiseModelBuilt", err)
	}
	if err := nm.AddReading(-90); !errors.Is(err, ErrNoiseModelBuilt) {
		t.Fatalf("AddReading after Build error = %v, want ErrNoiseModelBuilt", err)
	}
	if nm.Readings() != 1 {
		t.Fatalf("Readings = %d, want 1", nm.Readings())
	}
}

func TestNoiseModelSampleBeforeBuild(t *testing.T) {
	nm := NewNoiseModel()
	if _, err := nm.Sample(rand.New(rand.NewPCG(1, 1))); !errors.Is(err, ErrNoiseModelNotBuilt) {
		t.Fatalf("Sample before Build error = %v, want ErrNoiseModelNotBuilt", err)
	}
}

func TestNoiseModelConstantTrace(t *testing.T) {
	nm := NewNoiseModel()
	for range 50 {
		_ = nm.AddReading(-95)
	}
	if err := nm.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if nm.Patterns() != 1 {
		t.Fatalf("Patterns = %d, want 1", nm.Patterns())
	}

	rng := rand.New(rand.NewPCG(7, 7))
	for range 20 {
		v, _ := nm.Sample(rng)
		if v != -95 {
			t.Fatalf("Sample = %v, want -95", v)
		}
	}
}

func TestNoiseModelSamplesStayWithinTrace(t *testing.T) {
	trace := []int{-98, -97, -91, -98, -85, -98, -97, -98, -90, -98, -96, -98}
	nm := NewNoiseModel()
	seen := map[int]bool{}
	for _, r := range trace {
		_ = nm.AddReading(r)
		seen[r] = true
	}
	if err := nm.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if nm.Floor() != -98 {
		t.Fatalf("Floor = %d, want -98", nm.Floor())
	}

	rng := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		v, err := nm.Sample(rng)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if !seen[int(v)] {
			t.Fatalf("Sample produced %v which never appears in the trace", v)
		}
	}
}

func TestQuantise(t *testing.T) {
	cases := map[int]int{-98: -99, -97: -99, -96: -96, 0: 0, 4: 3, -1: -3}
	for in, want := range cases {
		if got := quantise(in); got != want {
			t.Fatalf("quantise(%d) = %d, want %d", in, got, want)
		}
	}
}
