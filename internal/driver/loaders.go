package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/mote-simulator/internal/logging"
	"github.com/signalsfoundry/mote-simulator/model"
)

// LoadTopologyFile opens path and registers its edges.
func (d *Driver) LoadTopologyFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open topology file: %w", err)
	}
	defer f.Close()
	return d.LoadTopology(ctx, f)
}

// LoadTopology reads "src dst gain" lines from r and registers one radio
// edge per line. Blank lines are skipped and fields past the third are
// ignored. Any other line that does not parse fails the load.
func (d *Driver) LoadTopology(ctx context.Context, r io.Reader) (int, error) {
	ctx, span := d.tracer.Start(ctx, "driver.LoadTopology")
	defer span.End()

	d.say("Creating radio channels...")
	radio := d.eng.Radio()
	sc := bufio.NewScanner(r)
	lineNo, edges := 0, 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		e, err := parseEdge(fields)
		if err != nil {
			return edges, fmt.Errorf("%w: line %d %q: %v", ErrMalformedTopology, lineNo, sc.Text(), err)
		}
		d.say(">>>Setting radio channel from node %d to node %d with gain %g dBm", e.Src, e.Dst, e.GainDBm)
		radio.Add(e.Src, e.Dst, e.GainDBm)
		edges++
	}
	if err := sc.Err(); err != nil {
		return edges, fmt.Errorf("read topology: %w", err)
	}

	span.SetAttributes(attribute.Int("edges", edges))
	if d.rec != nil {
		d.rec.SetTopology(d.cfg.Nodes, edges)
	}
	d.log.Info(ctx, "topology loaded", logging.Int("edges", edges))
	return edges, nil
}

func parseEdge(fields []string) (model.Edge, error) {
	if len(fields) < 3 {
		return model.Edge{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	src, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.Edge{}, fmt.Errorf("source id: %w", err)
	}
	dst, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.Edge{}, fmt.Errorf("destination id: %w", err)
	}
	gain, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return model.Edge{}, fmt.Errorf("gain: %w", err)
	}
	return model.Edge{Src: model.NodeID(src), Dst: model.NodeID(dst), GainDBm: gain}, nil
}

// LoadNoiseTraceFile opens path and feeds its readings to every node.
func (d *Driver) LoadNoiseTraceFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open noise file: %w", err)
	}
	defer f.Close()
	return d.LoadNoiseTrace(ctx, f)
}

// LoadNoiseTrace reads one integer dBm value per line from r and feeds each
// value, in file order, to every node created by CreateNodes. Reading stops
// after MaxNoiseReadings values; the rest of r is not consumed. It returns
// the number of values consumed.
func (d *Driver) LoadNoiseTrace(ctx context.Context, r io.Reader) (int, error) {
	ctx, span := d.tracer.Start(ctx, "driver.LoadNoiseTrace")
	defer span.End()

	d.say("Initializing Closest Pattern Matching (CPM)...")
	d.say("Reading noise model data file: %s", d.cfg.NoisePath)
	fmt.Fprint(d.out, "Loading:")

	sc := bufio.NewScanner(r)
	lineNo, consumed := 0, 0
	for consumed < d.cfg.MaxNoiseReadings && sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		val, err := strconv.Atoi(text)
		if err != nil {
			fmt.Fprintln(d.out)
			return consumed, fmt.Errorf("%w: line %d %q", ErrMalformedNoise, lineNo, text)
		}
		for i, n := range d.nodes {
			if err := n.AddNoiseTraceReading(val); err != nil {
				fmt.Fprintln(d.out)
				return consumed, fmt.Errorf("add noise reading to node %d: %w", i+1, err)
			}
		}
		consumed++
		if consumed%progressEvery == 0 {
			fmt.Fprint(d.out, "#")
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(d.out)
		return consumed, fmt.Errorf("read noise trace: %w", err)
	}
	d.say("Done!")

	span.SetAttributes(attribute.Int("readings", consumed))
	if d.rec != nil {
		d.rec.SetNoiseReadings(consumed)
	}
	d.log.Info(ctx, "noise trace loaded", logging.Int("readings", consumed), logging.Int("nodes", len(d.nodes)))
	return consumed, nil
}
