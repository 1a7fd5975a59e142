package hiddenterminal

import (
	"bytes"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/signalsfoundry/mote-simulator/internal/sim/engine"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

type link struct {
	src, dst model.NodeID
}

func newNetwork(t *testing.T, cfg Config, links ...link) (*engine.Engine, *Set) {
	t.Helper()
	factory, set := Factory(cfg)
	e := engine.New(engine.WithSeed(11), engine.WithApplication(factory))
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ids := map[model.NodeID]bool{}
	for _, l := range links {
		e.Radio().Add(l.src, l.dst, -50)
		ids[l.src], ids[l.dst] = true, true
	}
	for _, id := range slices.Sorted(maps.Keys(ids)) {
		n := e.GetNode(id)
		if err := n.CreateNoiseModel(); err != nil {
			t.Fatalf("CreateNoiseModel(%d): %v", id, err)
		}
		n.BootAtTime(0)
	}
	return e, set
}

func run(t *testing.T, e *engine.Engine, seconds int) {
	t.Helper()
	if _, err := e.RunUntil(timectrl.Ticks(seconds) * timectrl.TicksPerSecond); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
}

func TestConfigLambda(t *testing.T) {
	cfg := DefaultConfig()
	for id, want := range map[model.NodeID]float64{2: 1, 3: 2, 4: 3, 5: 4, 6: 5, 7: 1, 8: 2} {
		if got := cfg.Lambda(id); got != want {
			t.Fatalf("Lambda(%d) = %v, want %v", id, got, want)
		}
	}
	cfg.Lambdas[3] = 12
	if got := cfg.Lambda(3); got != 12 {
		t.Fatalf("override ignored: Lambda(3) = %v", got)
	}
}

func TestConfigClampsRetriesToCounterRange(t *testing.T) {
	for in, want := range map[int]int{-1: 0, 3: 3, 255: 255, 1000: 255} {
		if got := New(2, Config{MaxRetries: in}).cfg.MaxRetries; got != want {
			t.Fatalf("MaxRetries %d clamped to %d, want %d", in, got, want)
		}
	}
}

func TestMoteMessagesAreAcknowledged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lambdas[2] = 30
	e, set := newNetwork(t, cfg, link{2, 1}, link{1, 2})
	run(t, e, 120)

	mote := set.Get(2).Stats()
	if mote.Generated == 0 || mote.Acked == 0 {
		t.Fatalf("expected traffic to be acknowledged, got %+v", mote)
	}
	if mote.Failed != 0 {
		t.Fatalf("no message should fail on a clean link: %+v", mote)
	}
	base := set.Get(1).Senders()[2]
	// The last frame may be delivered with its ack still pending at the horizon.
	if d := base.Received - mote.Acked; d < 0 || d > 1 {
		t.Fatalf("base received %d, mote saw %d acks", base.Received, mote.Acked)
	}
	if base.Duplicates != 0 {
		t.Fatalf("unexpected duplicates: %+v", base)
	}
}

func TestMissingAckTriggersRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lambdas[2] = 30
	cfg.MaxRetries = 2
	// No link back from the base station, so no acknowledgement reaches the mote.
	e, set := newNetwork(t, cfg, link{2, 1})
	run(t, e, 60)

	mote := set.Get(2).Stats()
	if mote.Acked != 0 {
		t.Fatalf("acks without a reverse link: %+v", mote)
	}
	if mote.Failed == 0 || mote.Retries < mote.Failed*cfg.MaxRetries {
		t.Fatalf("expected every message to exhaust its retries: %+v", mote)
	}
	base := set.Get(1).Senders()[2]
	if base.Received == 0 || base.Duplicates == 0 {
		t.Fatalf("base should see originals and retransmissions: %+v", base)
	}
}

func TestRTSCTSHandshake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lambdas[2] = 30
	cfg.UseRTSCTS = true
	e, set := newNetwork(t, cfg, link{2, 1}, link{1, 2})
	run(t, e, 60)

	mote := set.Get(2).Stats()
	if mote.RTS == 0 || mote.Acked == 0 {
		t.Fatalf("expected handshakes followed by acknowledged data: %+v", mote)
	}
	if mote.Sent > mote.RTS {
		t.Fatalf("data sent without an RTS: %+v", mote)
	}
	if base := set.Get(1).Senders()[2]; base.RTS == 0 {
		t.Fatalf("base never granted a CTS: %+v", base)
	}
}

func TestBaseStationLogsStatistics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lambdas[2] = 60
	e, set := newNetwork(t, cfg, link{2, 1}, link{1, 2})
	var role bytes.Buffer
	e.AddChannel("role", &role)
	run(t, e, 25)

	out := role.String()
	if !strings.Contains(out, "DEBUG (1): Base station") {
		t.Fatalf("base station role missing:\n%s", out)
	}
	if !strings.Contains(out, "DEBUG (2): Mote, lambda 60 msg/min") {
		t.Fatalf("mote role missing:\n%s", out)
	}
	if got := strings.Count(out, "DEBUG (1): Node 2: received"); got != 2 {
		t.Fatalf("expected 2 statistics lines in 25s, got %d:\n%s", got, out)
	}
	if report := set.Get(1).Report(); len(report) != 1 || !strings.HasPrefix(report[0], "Node 2:") {
		t.Fatalf("unexpected report %v", report)
	}
	if len(set.Motes()) != 1 {
		t.Fatalf("expected one mote in the set, got %v", set.Motes())
	}
}

func TestOverheardCTSReservesChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lambdas[2] = 30
	cfg.UseRTSCTS = true
	// 3 hears the base station's CTS but is not the one it names.
	e, _ := newNetwork(t, cfg, link{2, 1}, link{1, 2}, link{1, 3})
	var rec bytes.Buffer
	e.AddChannel("radio_rec", &rec)
	run(t, e, 30)

	if !strings.Contains(rec.String(), "DEBUG (3): CTS for 2, holding off until") {
		t.Fatalf("node 3 did not defer to the exchange granted to 2:\n%s", rec.String())
	}
	if !strings.Contains(rec.String(), "DEBUG (2): CTS received") {
		t.Fatalf("node 2 never got its CTS:\n%s", rec.String())
	}
}

func TestRTSCTSReducesHiddenTerminalDataCollisions(t *testing.T) {
	collided := func(rtscts bool) int {
		cfg := DefaultConfig()
		cfg.Lambdas[2], cfg.Lambdas[3] = 600, 600
		cfg.UseRTSCTS = rtscts
		// 2 and 3 both reach the base station but cannot hear each other.
		e, _ := newNetwork(t, cfg, link{2, 1}, link{1, 2}, link{3, 1}, link{1, 3})
		run(t, e, 300)
		return e.Stats().CollisionsByAM[model.AMMyMsg]
	}

	plain, handshake := collided(false), collided(true)
	if plain == 0 {
		t.Fatalf("hidden motes produced no data collisions under plain CSMA")
	}
	if handshake >= plain {
		t.Fatalf("data collisions with RTS/CTS = %d, want fewer than plain CSMA's %d", handshake, plain)
	}
}
