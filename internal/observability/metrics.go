package observability

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// SimCollector bundles Prometheus metrics for a simulation run. It satisfies
// engine.MetricsRecorder and driver.SetupRecorder so the engine and the
// driver can feed it directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Events        prometheus.Counter
	Frames        *prometheus.CounterVec
	EventGap      prometheus.Histogram
	RunDuration   prometheus.Histogram
	SimTime       prometheus.Gauge
	PendingEvents prometheus.Gauge
	Nodes         prometheus.Gauge
	RadioEdges    prometheus.Gauge
	NoiseReadings prometheus.Gauge

	mu       sync.Mutex
	lastTime timectrl.Ticks
	seen     bool
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_total",
		Help: "Total number of simulation events executed.",
	}), "sim_events_total")
	if err != nil {
		return nil, err
	}

	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_frames_total",
		Help: "Radio frames by outcome (sent, delivered, broadcast_received, collided, lost, channel_busy, acked).",
	}, []string{"outcome"})
	frames, err = registerCounterVec(reg, frames, "sim_frames_total")
	if err != nil {
		return nil, err
	}

	gap, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_event_gap_seconds",
		Help:    "Simulated time between consecutive events.",
		Buckets: []float64{0, 0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
	}), "sim_event_gap_seconds")
	if err != nil {
		return nil, err
	}

	runDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_run_duration_seconds",
		Help:    "Wall-clock duration of complete simulation runs.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}), "sim_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauges := make([]prometheus.Gauge, 0, 5)
	for _, opts := range []prometheus.GaugeOpts{
		{Name: "sim_time_seconds", Help: "Current simulated time."},
		{Name: "sim_pending_events", Help: "Events waiting in the queue."},
		{Name: "sim_nodes", Help: "Number of nodes created for the run."},
		{Name: "sim_radio_edges", Help: "Number of directed radio edges registered from the topology."},
		{Name: "sim_noise_readings", Help: "Noise trace readings fed to every node."},
	} {
		g, err := registerGauge(reg, prometheus.NewGauge(opts), opts.Name)
		if err != nil {
			return nil, err
		}
		gauges = append(gauges, g)
	}

	return &SimCollector{
		gatherer:      gatherer,
		Events:        events,
		Frames:        frames,
		EventGap:      gap,
		RunDuration:   runDuration,
		SimTime:       gauges[0],
		PendingEvents: gauges[1],
		Nodes:         gauges[2],
		RadioEdges:    gauges[3],
		NoiseReadings: gauges[4],
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordEvent notes one executed event at simulated time now.
func (c *SimCollector) RecordEvent(now timectrl.Ticks, pending int) {
	if c == nil {
		return
	}
	c.Events.Inc()
	c.SimTime.Set(timectrl.Seconds(now))
	c.PendingEvents.Set(float64(pending))

	c.mu.Lock()
	if c.seen {
		c.EventGap.Observe(timectrl.Seconds(now - c.lastTime))
	}
	c.lastTime, c.seen = now, true
	c.mu.Unlock()
}

// RecordFrame counts one frame outcome.
func (c *SimCollector) RecordFrame(outcome string) {
	if c == nil {
		return
	}
	c.Frames.WithLabelValues(outcome).Inc()
}

// SetTopology records the node and edge counts of the run.
func (c *SimCollector) SetTopology(nodes, edges int) {
	if c == nil {
		return
	}
	c.Nodes.Set(float64(nodes))
	c.RadioEdges.Set(float64(edges))
}

// SetNoiseReadings records how many trace readings each node received.
func (c *SimCollector) SetNoiseReadings(readings int) {
	if c == nil {
		return
	}
	c.NoiseReadings.Set(float64(readings))
}

// ObserveRun records the wall-clock duration of a finished run.
func (c *SimCollector) ObserveRun(d time.Duration) {
	if c == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
