package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/mote-simulator/model"
)

// ErrEdgeNotFound is returned when removing an edge that was never added.
var ErrEdgeNotFound = errors.New("radio edge not found")

// LinkQuality is a coarse, human-readable classification of a radio edge
// derived from its SNR against the receiver's noise floor.
type LinkQuality string

const (
	LinkQualityDown      LinkQuality = "down"
	LinkQualityPoor      LinkQuality = "poor"
	LinkQualityFair      LinkQuality = "fair"
	LinkQualityGood      LinkQuality = "good"
	LinkQualityExcellent LinkQuality = "excellent"
)

// RadioModel stores directed connectivity with a signal gain per edge.
//
// The table is concurrency-safe via an internal RWMutex so the metrics
// handler can read it while the engine goroutine mutates it.
type RadioModel struct {
	mu sync.RWMutex

	gains map[model.NodeID]map[model.NodeID]float64
	// registrations counts every Add, including ones that overwrote an
	// existing edge.
	registrations int

	// SNRThresholdDB is the SNR at which the packet reception ratio is 50%.
	SNRThresholdDB float64
	// CaptureThresholdDB is how much stronger a frame must be than an
	// overlapping one to survive the collision.
	CaptureThresholdDB float64
}

// NewRadioModel creates an empty radio model with CC2420-like thresholds.
func NewRadioModel() *RadioModel {
	return &RadioModel{
		gains:              make(map[model.NodeID]map[model.NodeID]float64),
		SNRThresholdDB:     4.0,
		CaptureThresholdDB: 3.0,
	}
}

// Add registers the edge src->dst with the given gain. Re-adding an existing
// edge replaces its gain; no other validation is performed.
func (rm *RadioModel) Add(src, dst model.NodeID, gainDBm float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out, ok := rm.gains[src]
	if !ok {
		out = make(map[model.NodeID]float64)
		rm.gains[src] = out
	}
	out[dst] = gainDBm
	rm.registrations++
}

// AddEdge is Add for a model.Edge.
func (rm *RadioModel) AddEdge(e model.Edge) {
	rm.Add(e.Src, e.Dst, e.GainDBm)
}

// Gain returns the gain of src->dst, if the edge exists.
func (rm *RadioModel) Gain(src, dst model.NodeID) (float64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	g, ok := rm.gains[src][dst]
	return g, ok
}

// Connected reports whether src->dst exists.
func (rm *RadioModel) Connected(src, dst model.NodeID) bool {
	_, ok := rm.Gain(src, dst)
	return ok
}

// Remove deletes the edge src->dst.
func (rm *RadioModel) Remove(src, dst model.NodeID) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out, ok := rm.gains[src]
	if !ok {
		return fmt.Errorf("%w: %d->%d", ErrEdgeNotFound, src, dst)
	}
	if _, ok := out[dst]; !ok {
		return fmt.Errorf("%w: %d->%d", ErrEdgeNotFound, src, dst)
	}
	delete(out, dst)
	if len(out) == 0 {
		delete(rm.gains, src)
	}
	return nil
}

// Neighbors returns every node that hears src, in ascending id order.
func (rm *RadioModel) Neighbors(src model.NodeID) []model.NodeID {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	out := make([]model.NodeID, 0, len(rm.gains[src]))
	for dst := range rm.gains[src] {
		out = append(out, dst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns a snapshot of every edge ordered by (src, dst).
func (rm *RadioModel) Edges() []model.Edge {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var out []model.Edge
	for src, dsts := range rm.gains {
		for dst, g := range dsts {
			out = append(out, model.Edge{Src: src, Dst: dst, GainDBm: g})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		return out[i].Dst < out[j].Dst
	})
	return out
}

// Registrations returns how many times Add has been called.
func (rm *RadioModel) Registrations() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.registrations
}

// SNR returns the signal-to-noise ratio of a signal received at signalDBm
// over a noise sample of noiseDBm.
func SNR(signalDBm, noiseDBm float64) float64 {
	return signalDBm - noiseDBm
}

// PRR maps an SNR to a packet reception ratio with a logistic curve centred
// on SNRThresholdDB.
func (rm *RadioModel) PRR(snrDB float64) float64 {
	return 1.0 / (1.0 + math.Exp(-1.5*(snrDB-rm.SNRThresholdDB)))
}

// Captures reports whether a frame at signalDBm survives an overlapping frame
// at interfererDBm.
func (rm *RadioModel) Captures(signalDBm, interfererDBm float64) bool {
	return signalDBm-interfererDBm >= rm.CaptureThresholdDB
}

// ClassifyQuality buckets an SNR into a LinkQuality. Thresholds are soft and
// only meant for reporting.
func ClassifyQuality(snrDB float64) LinkQuality {
	switch {
	case snrDB < 0:
		return LinkQualityDown
	case snrDB < 5:
		return LinkQualityPoor
	case snrDB < 10:
		return LinkQualityFair
	case snrDB < 20:
		return LinkQualityGood
	default:
		return LinkQualityExcellent
	}
}
