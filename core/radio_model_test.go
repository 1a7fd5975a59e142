package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/mote-simulator/model"
)

func TestRadioModelAddAndGain(t *testing.T) {
	rm := NewRadioModel()
	rm.Add(1, 2, -54.5)

	g, ok := rm.Gain(1, 2)
	if !ok || g != -54.5 {
		t.Fatalf("Gain(1,2) = %v,%v want -54.5,true", g, ok)
	}
	if rm.Connected(2, 1) {
		t.Fatalf("edges are directed; 2->1 should not exist")
	}
}

func TestRadioModelDuplicateEdgesPassThrough(t *testing.T) {
	rm := NewRadioModel()
	rm.Add(1, 2, -60)
	rm.Add(1, 2, -70)

	if got := rm.Registrations(); got != 2 {
		t.Fatalf("Registrations = %d, want 2", got)
	}
	if g, _ := rm.Gain(1, 2); g != -70 {
		t.Fatalf("Gain after duplicate = %v, want last value -70", g)
	}
	if got := len(rm.Edges()); got != 1 {
		t.Fatalf("Edges len = %d, want 1", got)
	}
}

func TestRadioModelEdgesSorted(t *testing.T) {
	rm := NewRadioModel()
	rm.AddEdge(model.Edge{Src: 3, Dst: 1, GainDBm: -1})
	rm.AddEdge(model.Edge{Src: 1, Dst: 3, GainDBm: -2})
	rm.AddEdge(model.Edge{Src: 1, Dst: 2, GainDBm: -3})

	edges := rm.Edges()
	want := []model.Edge{
		{Src: 1, Dst: 2, GainDBm: -3},
		{Src: 1, Dst: 3, GainDBm: -2},
		{Src: 3, Dst: 1, GainDBm: -1},
	}
	if len(edges) != len(want) {
		t.Fatalf("Edges = %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Fatalf("Edges[%d] = %v, want %v", i, edges[i], want[i])
		}
	}

	n := rm.Neighbors(1)
	if len(n) != 2 || n[0] != 2 || n[1] != 3 {
		t.Fatalf("Neighbors(1) = %v, want [2 3]", n)
	}
}

func TestRadioModelRemove(t *testing.T) {
	rm := NewRadioModel()
	rm.Add(1, 2, -50)

	if err := rm.Remove(1, 2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if rm.Connected(1, 2) {
		t.Fatalf("edge still present after Remove")
	}
	if err := rm.Remove(1, 2); !errors.Is(err, ErrEdgeNotFound) {
		t.Fatalf("second Remove error = %v, want ErrEdgeNotFound", err)
	}
}

func TestPRRMonotoneAroundThreshold(t *testing.T) {
	rm := NewRadioModel()

	if p := rm.PRR(rm.SNRThresholdDB); p < 0.49 || p > 0.51 {
		t.Fatalf("PRR at threshold = %v, want ~0.5", p)
	}
	if rm.PRR(-10) >= rm.PRR(0) || rm.PRR(0) >= rm.PRR(10) {
		t.Fatalf("PRR must increase with SNR")
	}
	if p := rm.PRR(30); p < 0.999 {
		t.Fatalf("PRR(30dB) = %v, want ~1", p)
	}
}

func TestCapture(t *testing.T) {
	rm := NewRadioModel()
	if !rm.Captures(-50, -60) {
		t.Fatalf("10 dB stronger frame should capture")
	}
	if rm.Captures(-50, -51) {
		t.Fatalf("1 dB stronger frame should not capture")
	}
}

func TestClassifyQuality(t *testing.T) {
	cases := []struct {
		snr  float64
		want LinkQuality
	}{
		{-1, LinkQualityDown},
		{2, LinkQualityPoor},
		{7, LinkQualityFair},
		{15, LinkQualityGood},
		{40, LinkQualityExcellent},
	}
	for _, tc := range cases {
		if got := ClassifyQuality(tc.snr); got != tc.want {
			t.Fatalf("ClassifyQuality(%v) = %s, want %s", tc.snr, got, tc.want)
		}
	}
	if got := SNR(-60, -98); got != 38 {
		t.Fatalf("SNR = %v, want 38", got)
	}
}
