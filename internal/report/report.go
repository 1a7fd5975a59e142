// Package report renders the YAML summary of a finished run.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mote-simulator/internal/app/hiddenterminal"
	"github.com/signalsfoundry/mote-simulator/internal/config"
	"github.com/signalsfoundry/mote-simulator/internal/driver"
	"github.com/signalsfoundry/mote-simulator/internal/sim/engine"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// Summary is the document written after a run.
type Summary struct {
	RunID            string          `yaml:"run_id"`
	StartedAt        string          `yaml:"started_at"`
	WallDuration     string          `yaml:"wall_duration"`
	SimulatedSeconds float64         `yaml:"simulated_seconds"`
	Scenario         config.Scenario `yaml:"scenario"`
	Driver           driver.Result   `yaml:"driver"`
	Engine           engine.Stats    `yaml:"engine"`
	Nodes            []NodeSummary   `yaml:"nodes"`

	Motes       map[int]hiddenterminal.MoteStats   `yaml:"motes,omitempty"`
	BaseStation map[int]hiddenterminal.SenderStats `yaml:"base_station,omitempty"`
}

// NodeSummary describes one node at the end of the run.
type NodeSummary struct {
	ID            int     `yaml:"id"`
	BootSeconds   float64 `yaml:"boot_seconds"`
	Booted        bool    `yaml:"booted"`
	NoiseReadings int     `yaml:"noise_readings"`
	NoisePatterns int     `yaml:"noise_patterns"`
	NoiseFloorDBm int     `yaml:"noise_floor_dbm"`
	Neighbors     []int   `yaml:"neighbors,flow"`
}

// New assembles a summary from the engine state after a run.
func New(runID string, started time.Time, wall time.Duration, s config.Scenario, res driver.Result, eng *engine.Engine) Summary {
	sum := Summary{
		RunID:            runID,
		StartedAt:        started.UTC().Format(time.RFC3339),
		WallDuration:     wall.Round(time.Millisecond).String(),
		SimulatedSeconds: timectrl.Seconds(eng.Time()),
		Scenario:         s,
		Driver:           res,
		Engine:           eng.Stats(),
	}
	for _, n := range eng.Nodes() {
		boot, _ := n.BootTime()
		ns := NodeSummary{
			ID:            int(n.ID()),
			BootSeconds:   timectrl.Seconds(boot),
			Booted:        n.IsOn(),
			NoiseReadings: n.NoiseReadings(),
			NoisePatterns: n.NoiseModel().Patterns(),
			NoiseFloorDBm: n.NoiseModel().Floor(),
		}
		for _, nb := range eng.Radio().Neighbors(n.ID()) {
			ns.Neighbors = append(ns.Neighbors, int(nb))
		}
		sum.Nodes = append(sum.Nodes, ns)
	}
	return sum
}

// WithApplication adds the hidden-terminal statistics.
func (s Summary) WithApplication(set *hiddenterminal.Set, base *hiddenterminal.App) Summary {
	if set != nil {
		s.Motes = make(map[int]hiddenterminal.MoteStats)
		for id, st := range set.Motes() {
			s.Motes[int(id)] = st
		}
	}
	if base != nil {
		s.BaseStation = make(map[int]hiddenterminal.SenderStats)
		for id, st := range base.Senders() {
			s.BaseStation[int(id)] = st
		}
	}
	return s
}

// Write encodes s as YAML.
func Write(w io.Writer, s Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return enc.Close()
}

// WriteFile writes s to path.
func WriteFile(path string, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	if err := Write(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes a summary previously written by Write.
func Read(r io.Reader) (Summary, error) {
	var s Summary
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return s, nil
}
