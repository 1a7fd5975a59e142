package core

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
)

const (
	// NoiseHistoryDepth is the pattern length used by the closest pattern
	// matching model. Shorter traces use len(trace)-1.
	NoiseHistoryDepth = 20
	// NoiseBinDBm is the width of the bins readings are quantised into when
	// forming patterns.
	NoiseBinDBm = 3
	// DefaultNoiseFloorDBm is used by models built from an empty trace.
	DefaultNoiseFloorDBm = -98
)

var (
	ErrNoiseModelBuilt    = errors.New("noise model already built")
	ErrNoiseModelNotBuilt = errors.New("noise model not built")
)

// NoiseModel is a per-node Closest Pattern Matching (CPM) model. Readings are
// appended from a trace; Build derives a table from every observed pattern of
// NoiseHistoryDepth quantised readings to the readings that followed it.
// Sample then walks the table, falling back to the nearest known pattern when
// the current history was never seen in the trace.
type NoiseModel struct {
	readings []int
	built    bool

	depth    int
	table    map[string][]int
	patterns [][]int
	history  []int
	floor    int
}

// NewNoiseModel returns an empty, unbuilt model.
func NewNoiseModel() *NoiseModel {
	return &NoiseModel{floor: DefaultNoiseFloorDBm}
}

// AddReading appends one trace reading in dBm. Readings added after Build are
// ignored and report ErrNoiseModelBuilt.
func (nm *NoiseModel) AddReading(dbm int) error {
	if nm.built {
		return ErrNoiseModelBuilt
	}
	nm.readings = append(nm.readings, dbm)
	return nil
}

// Readings returns the number of readings accumulated so far.
func (nm *NoiseModel) Readings() int { return len(nm.readings) }

// Built reports whether Build has run.
func (nm *NoiseModel) Built() bool { return nm.built }

// Floor returns the lowest reading in the trace, or DefaultNoiseFloorDBm for
// an empty trace.
func (nm *NoiseModel) Floor() int { return nm.floor }

// Patterns returns how many distinct patterns the model learned.
func (nm *NoiseModel) Patterns() int { return len(nm.patterns) }

// Build derives the pattern table. It may run only once.
func (nm *NoiseModel) Build() error {
	if nm.built {
		return ErrNoiseModelBuilt
	}
	nm.built = true
	nm.table = make(map[string][]int)

	if len(nm.readings) == 0 {
		return nil
	}

	nm.floor = nm.readings[0]
	for _, r := range nm.readings {
		if r < nm.floor {
			nm.floor = r
		}
	}

	nm.depth = min(NoiseHistoryDepth, len(nm.readings)-1)
	if nm.depth < 1 {
		return nil
	}

	for i := nm.depth; i < len(nm.readings); i++ {
		pattern := quantiseAll(nm.readings[i-nm.depth : i])
		key := patternKey(pattern)
		if _, seen := nm.table[key]; !seen {
			nm.patterns = append(nm.patterns, pattern)
		}
		nm.table[key] = append(nm.table[key], nm.readings[i])
	}

	nm.history = quantiseAll(nm.readings[:nm.depth])
	return nil
}

// Sample draws the next noise value in dBm and advances the model's history.
func (nm *NoiseModel) Sample(rng *rand.Rand) (float64, error) {
	if !nm.built {
		return 0, ErrNoiseModelNotBuilt
	}
	if len(nm.patterns) == 0 {
		return float64(nm.floor), nil
	}

	candidates, ok := nm.table[patternKey(nm.history)]
	if !ok {
		candidates = nm.table[patternKey(nm.closestPattern())]
	}
	v := candidates[rng.IntN(len(candidates))]

	copy(nm.history, nm.history[1:])
	nm.history[len(nm.history)-1] = quantise(v)
	return float64(v), nil
}

// closestPattern returns the learned pattern with the smallest L1 distance
// to the current history. Ties go to the pattern learned first.
func (nm *NoiseModel) closestPattern() []int {
	best := nm.patterns[0]
	bestDist := -1
	for _, p := range nm.patterns {
		d := 0
		for i := range p {
			diff := p[i] - nm.history[i]
			if diff < 0 {
				diff = -diff
			}
			d += diff
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

func quantise(dbm int) int {
	q := dbm / NoiseBinDBm
	if dbm < 0 && dbm%NoiseBinDBm != 0 {
		q--
	}
	return q * NoiseBinDBm
}

func quantiseAll(in []int) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = quantise(v)
	}
	return out
}

func patternKey(p []int) string {
	var b strings.Builder
	for i, v := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}
