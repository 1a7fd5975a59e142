// Package driver configures a simulation engine and runs it to a fixed
// simulated-time horizon. It performs the setup steps in a fixed order and
// fails fast: the first error aborts the run.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/mote-simulator/core"
	"github.com/signalsfoundry/mote-simulator/internal/logging"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

const (
	DefaultNodes            = 6
	DefaultHorizonSeconds   = 300
	DefaultMaxNoiseReadings = 10000
	DefaultStallLimit       = 10000
	DefaultTopologyPath     = "topology.txt"
	DefaultNoisePath        = "meyer-heavy.txt"

	// progressEvery is how many noise readings each '#' progress mark stands for.
	progressEvery = 5000
)

// DefaultChannels are the debug channels bound to the output sink.
var DefaultChannels = []string{"init", "Boot", "Radio", "Timer", "radio_ack", "radio_rec", "radio_pack", "role"}

var (
	ErrMalformedTopology = errors.New("malformed topology line")
	ErrMalformedNoise    = errors.New("malformed noise reading")
	ErrStalled           = errors.New("simulated time stopped advancing")
)

// Node is the part of a node handle the driver uses.
type Node interface {
	BootAtTime(t timectrl.Ticks)
	AddNoiseTraceReading(dbm int) error
	CreateNoiseModel() error
}

// Radio receives topology edges.
type Radio interface {
	Add(src, dst model.NodeID, gainDBm float64)
}

// Engine is the simulation engine contract. RunNextEvent must either run an
// event or move Time forward; it reports whether an event ran. Time must
// never decrease.
type Engine interface {
	MAC() *core.MACParams
	Radio() Radio
	Init() error
	AddChannel(name string, w io.Writer)
	GetNode(id model.NodeID) Node
	RunNextEvent() bool
	Time() timectrl.Ticks
	TicksPerSecond() timectrl.Ticks
}

// SetupRecorder is notified of what setup registered. observability.SimCollector
// implements it.
type SetupRecorder interface {
	SetTopology(nodes, edges int)
	SetNoiseReadings(readings int)
}

// Config describes one run.
type Config struct {
	Nodes        int
	TopologyPath string
	NoisePath    string
	Channels     []string

	HorizonSeconds   float64
	MaxNoiseReadings int
	// StallLimit is how many consecutive idle calls to RunNextEvent may leave
	// the clock unchanged before the run fails with ErrStalled.
	StallLimit int

	// MAC, when set, replaces the engine's MAC parameters before Init.
	MAC *core.MACParams
}

// DefaultConfig returns the configuration of the reference experiment.
func DefaultConfig() Config {
	return Config{
		Nodes:            DefaultNodes,
		TopologyPath:     DefaultTopologyPath,
		NoisePath:        DefaultNoisePath,
		Channels:         append([]string(nil), DefaultChannels...),
		HorizonSeconds:   DefaultHorizonSeconds,
		MaxNoiseReadings: DefaultMaxNoiseReadings,
		StallLimit:       DefaultStallLimit,
	}
}

// Result summarises a completed run.
type Result struct {
	Nodes         int            `yaml:"nodes"`
	Edges         int            `yaml:"edges"`
	NoiseReadings int            `yaml:"noise_readings"`
	Events        int            `yaml:"events"`
	IdleAdvances  int            `yaml:"idle_advances"`
	Horizon       timectrl.Ticks `yaml:"horizon_ticks"`
	FinalTime     timectrl.Ticks `yaml:"final_time_ticks"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithOutput sets the sink for narration and debug channels. Defaults to
// stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) {
		if w != nil {
			d.out = w
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithRecorder sets the setup metrics recorder.
func WithRecorder(r SetupRecorder) Option {
	return func(d *Driver) { d.rec = r }
}

// Driver runs the setup sequence and the event loop against one engine.
type Driver struct {
	eng Engine
	cfg Config

	out    io.Writer
	log    logging.Logger
	rec    SetupRecorder
	tracer trace.Tracer

	nodes []Node
}

// New returns a driver for eng. Zero fields of cfg take their defaults.
func New(eng Engine, cfg Config, opts ...Option) *Driver {
	def := DefaultConfig()
	if cfg.Nodes <= 0 {
		cfg.Nodes = def.Nodes
	}
	if cfg.HorizonSeconds <= 0 {
		cfg.HorizonSeconds = def.HorizonSeconds
	}
	if cfg.MaxNoiseReadings <= 0 {
		cfg.MaxNoiseReadings = def.MaxNoiseReadings
	}
	if cfg.StallLimit <= 0 {
		cfg.StallLimit = def.StallLimit
	}
	if cfg.Channels == nil {
		cfg.Channels = def.Channels
	}

	d := &Driver{
		eng:    eng,
		cfg:    cfg,
		out:    os.Stdout,
		log:    logging.Noop(),
		tracer: otel.Tracer("github.com/signalsfoundry/mote-simulator/internal/driver"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Driver) Config() Config { return d.cfg }

// Horizon returns the simulated time the run loop must exceed.
func (d *Driver) Horizon() timectrl.Ticks {
	return timectrl.Ticks(d.cfg.HorizonSeconds * float64(d.eng.TicksPerSecond()))
}

// Run executes every step in order and returns the run summary.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "driver.Run", trace.WithAttributes(
		attribute.Int("nodes", d.cfg.Nodes),
		attribute.String("topology", d.cfg.TopologyPath),
		attribute.String("noise", d.cfg.NoisePath),
	))
	defer span.End()

	res, err := d.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (d *Driver) run(ctx context.Context) (Result, error) {
	res := Result{Nodes: d.cfg.Nodes, Horizon: d.Horizon()}
	d.banner()

	if err := d.Initialize(ctx); err != nil {
		return res, err
	}
	d.RegisterChannels(ctx)
	d.CreateNodes(ctx)

	edges, err := d.LoadTopologyFile(ctx, d.cfg.TopologyPath)
	if err != nil {
		return res, err
	}
	res.Edges = edges

	readings, err := d.LoadNoiseTraceFile(ctx, d.cfg.NoisePath)
	if err != nil {
		return res, err
	}
	res.NoiseReadings = readings

	if err := d.BuildNoiseModels(ctx); err != nil {
		return res, err
	}

	loop, err := d.RunLoop(ctx)
	res.Events = loop.Events
	res.IdleAdvances = loop.IdleAdvances
	res.FinalTime = loop.FinalTime
	return res, err
}

func (d *Driver) banner() {
	d.say("********************************************")
	d.say("*                                          *")
	d.say("*         WSN Simulation Driver            *")
	d.say("*                                          *")
	d.say("********************************************")
}

// Initialize applies MAC parameters and initializes the engine.
func (d *Driver) Initialize(ctx context.Context) error {
	_, span := d.tracer.Start(ctx, "driver.Initialize")
	defer span.End()

	d.say("Initializing mac....")
	if d.cfg.MAC != nil {
		*d.eng.MAC() = *d.cfg.MAC
	}
	d.say("Initializing radio channels....")
	d.say("    using topology file: %s", d.cfg.TopologyPath)
	d.say("    using noise file: %s", d.cfg.NoisePath)
	d.say("Initializing simulator....")
	if err := d.eng.Init(); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	return nil
}

// RegisterChannels binds every configured debug channel to the output sink.
func (d *Driver) RegisterChannels(ctx context.Context) {
	_, span := d.tracer.Start(ctx, "driver.RegisterChannels")
	defer span.End()

	for _, name := range d.cfg.Channels {
		d.say("Activate debug message on channel %s", name)
		d.eng.AddChannel(name, d.out)
	}
	d.log.Debug(ctx, "debug channels registered", logging.Int("count", len(d.cfg.Channels)))
}

// CreateNodes fetches nodes 1..N and boots node i at (i-1) seconds.
func (d *Driver) CreateNodes(ctx context.Context) []Node {
	_, span := d.tracer.Start(ctx, "driver.CreateNodes")
	defer span.End()

	tps := d.eng.TicksPerSecond()
	d.nodes = make([]Node, 0, d.cfg.Nodes)
	for i := 1; i <= d.cfg.Nodes; i++ {
		d.say("Creating node %d ...", i)
		n := d.eng.GetNode(model.NodeID(i))
		bootAt := timectrl.Ticks(i-1) * tps
		n.BootAtTime(bootAt)
		d.say(">>>Will boot at time %d [sec]", bootAt/tps)
		d.nodes = append(d.nodes, n)
	}
	return d.nodes
}

// BuildNoiseModels asks every node to build its noise model. It must run
// after the whole trace has been loaded.
func (d *Driver) BuildNoiseModels(ctx context.Context) error {
	_, span := d.tracer.Start(ctx, "driver.BuildNoiseModels")
	defer span.End()

	for i, n := range d.nodes {
		d.say(">>>Creating noise model for node: %d", i+1)
		if err := n.CreateNoiseModel(); err != nil {
			return fmt.Errorf("create noise model for node %d: %w", i+1, err)
		}
	}
	return nil
}

// LoopResult summarises the run loop.
type LoopResult struct {
	Events       int
	IdleAdvances int
	FinalTime    timectrl.Ticks
}

// RunLoop advances the engine one event at a time until simulated time
// exceeds the horizon. Cancelling ctx stops the loop between events.
func (d *Driver) RunLoop(ctx context.Context) (LoopResult, error) {
	ctx, span := d.tracer.Start(ctx, "driver.RunLoop")
	defer span.End()

	horizon := d.Horizon()
	d.say("Start simulation! \n\n")
	d.log.Info(ctx, "simulation started", logging.Int64("horizon_ticks", int64(horizon)))

	var res LoopResult
	prev := d.eng.Time()
	stalled := 0
	for {
		if err := ctx.Err(); err != nil {
			res.FinalTime = d.eng.Time()
			return res, err
		}

		ran := d.eng.RunNextEvent()
		now := d.eng.Time()
		if ran {
			res.Events++
		} else {
			res.IdleAdvances++
		}
		if now > horizon {
			res.FinalTime = now
			break
		}

		if !ran && now <= prev {
			stalled++
			if stalled >= d.cfg.StallLimit {
				res.FinalTime = now
				return res, fmt.Errorf("%w at tick %d after %d idle calls", ErrStalled, now, stalled)
			}
			continue
		}
		stalled = 0
		prev = now
	}

	span.SetAttributes(attribute.Int("events", res.Events), attribute.Int("idle_advances", res.IdleAdvances))
	d.say("\n\n\nSimulation finished!")
	d.log.Info(ctx, "simulation finished",
		logging.Int("events", res.Events),
		logging.Int("idle_advances", res.IdleAdvances),
		logging.Float64("final_time_s", float64(res.FinalTime)/float64(d.eng.TicksPerSecond())),
	)
	return res, nil
}

func (d *Driver) say(format string, args ...any) {
	fmt.Fprintf(d.out, format+"\n", args...)
}
