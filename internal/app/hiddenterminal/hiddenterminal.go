// Package hiddenterminal is the mote application of the hidden-terminal
// experiment. Node 1 is a base station; every other node reports to it with
// messages generated as a Poisson process, retrying frames that are not
// acknowledged. An optional RTS/CTS handshake precedes each data frame.
package hiddenterminal

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/mote-simulator/internal/sim/engine"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

const (
	DefaultLogIntervalSeconds = 10
	DefaultMaxRetries         = 3
	// DefaultCTSTimeoutSeconds bounds how long a mote waits for a CTS.
	DefaultCTSTimeoutSeconds = 0.05
)

// DefaultLambdas are the message rates of motes 2..6, in messages per
// minute.
var DefaultLambdas = map[model.NodeID]float64{2: 1, 3: 2, 4: 3, 5: 4, 6: 5}

// Config parameterises the application on every node.
type Config struct {
	BaseStation model.NodeID
	// Lambdas maps a mote to its rate in messages per minute. Motes not
	// listed cycle through rates 1..5 by id.
	Lambdas     map[model.NodeID]float64
	UseRTSCTS   bool
	MaxRetries  int
	LogInterval timectrl.Ticks
	CTSTimeout  timectrl.Ticks
}

// DefaultConfig returns the parameters of the reference experiment.
func DefaultConfig() Config {
	lambdas := make(map[model.NodeID]float64, len(DefaultLambdas))
	for id, l := range DefaultLambdas {
		lambdas[id] = l
	}
	return Config{
		BaseStation: model.BaseStationID,
		Lambdas:     lambdas,
		MaxRetries:  DefaultMaxRetries,
		LogInterval: DefaultLogIntervalSeconds * timectrl.TicksPerSecond,
		CTSTimeout:  timectrl.FromSeconds(DefaultCTSTimeoutSeconds),
	}
}

// Lambda returns the message rate of mote id in messages per minute.
func (c Config) Lambda(id model.NodeID) float64 {
	if l, ok := c.Lambdas[id]; ok && l > 0 {
		return l
	}
	if id <= c.BaseStation {
		return 1
	}
	return float64((int(id)-int(c.BaseStation)-1)%5 + 1)
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseStation == 0 {
		c.BaseStation = def.BaseStation
	}
	// DataMsg.Retries is a uint8.
	c.MaxRetries = min(max(c.MaxRetries, 0), math.MaxUint8)
	if c.LogInterval <= 0 {
		c.LogInterval = def.LogInterval
	}
	if c.CTSTimeout <= 0 {
		c.CTSTimeout = def.CTSTimeout
	}
	return c
}

// MoteStats counts what a mote did.
type MoteStats struct {
	Generated int `yaml:"generated"`
	Skipped   int `yaml:"skipped"`
	Sent      int `yaml:"sent"`
	Acked     int `yaml:"acked"`
	Retries   int `yaml:"retries"`
	Failed    int `yaml:"failed"`
	RTS       int `yaml:"rts"`
}

// SenderStats is what the base station saw from one mote.
type SenderStats struct {
	Received   int    `yaml:"received"`
	Duplicates int    `yaml:"duplicates"`
	Retries    int    `yaml:"retries"`
	LastSeq    uint16 `yaml:"last_seq"`
	RTS        int    `yaml:"rts"`
}

// Factory returns an engine.AppFactory that installs an App on every node.
// Apps are also collected in the returned set so callers can read their
// statistics after a run.
func Factory(cfg Config) (engine.AppFactory, *Set) {
	cfg = cfg.withDefaults()
	set := &Set{apps: make(map[model.NodeID]*App)}
	return func(id model.NodeID) engine.Application {
		a := New(id, cfg)
		set.apps[id] = a
		return a
	}, set
}

// Set holds the apps created by a Factory.
type Set struct {
	apps map[model.NodeID]*App
}

// Get returns the app running on id.
func (s *Set) Get(id model.NodeID) *App { return s.apps[id] }

// Motes returns the statistics of every mote, keyed by node id.
func (s *Set) Motes() map[model.NodeID]MoteStats {
	out := make(map[model.NodeID]MoteStats)
	for id, a := range s.apps {
		if !a.isBase() {
			out[id] = a.stats
		}
	}
	return out
}

// App is the application instance on one node.
type App struct {
	cfg Config
	id  model.NodeID

	// mote state
	seq         uint16
	pending     *model.DataMsg
	awaitingCTS bool
	ctsTimer    string
	stats       MoteStats

	// base station state
	senders map[model.NodeID]*SenderStats
}

// New returns the application for node id.
func New(id model.NodeID, cfg Config) *App {
	return &App{
		cfg:     cfg.withDefaults(),
		id:      id,
		senders: make(map[model.NodeID]*SenderStats),
	}
}

func (a *App) isBase() bool { return a.id == a.cfg.BaseStation }

// Stats returns the mote counters.
func (a *App) Stats() MoteStats { return a.stats }

// Senders returns the base station's per-sender statistics.
func (a *App) Senders() map[model.NodeID]SenderStats {
	out := make(map[model.NodeID]SenderStats, len(a.senders))
	for id, s := range a.senders {
		out[id] = *s
	}
	return out
}

// Booted starts the base station's log timer or the mote's traffic.
func (a *App) Booted(n *engine.Node) {
	n.Dbg("Boot", "Application booted")
	if a.isBase() {
		n.Dbg("role", "Base station")
		a.armLogTimer(n)
		return
	}
	n.Dbg("role", "Mote, lambda %.0f msg/min", a.cfg.Lambda(a.id))
	a.scheduleNext(n)
}

// scheduleNext arms the generation timer with an exponential delay.
func (a *App) scheduleNext(n *engine.Node) {
	mean := 60 / a.cfg.Lambda(a.id)
	delay := timectrl.FromSeconds(n.Rand().ExpFloat64() * mean)
	n.Dbg("Timer", "Next message in %.3f [sec]", timectrl.Seconds(delay))
	n.After(delay, func() { a.generate(n) })
}

func (a *App) generate(n *engine.Node) {
	defer a.scheduleNext(n)
	a.stats.Generated++
	if a.pending != nil {
		a.stats.Skipped++
		n.Dbg("Timer", "Previous message %d still in flight, skipping", a.pending.SeqNum)
		return
	}
	a.seq++
	a.pending = &model.DataMsg{SenderID: a.id, SeqNum: a.seq}
	a.attempt(n)
}

// attempt starts one transmission attempt of the pending message.
func (a *App) attempt(n *engine.Node) {
	if a.pending == nil {
		return
	}
	if a.cfg.UseRTSCTS {
		a.sendRTS(n)
		return
	}
	a.sendData(n)
}

func (a *App) sendRTS(n *engine.Node) {
	f := &model.Frame{
		Dst:     a.cfg.BaseStation,
		Type:    model.AMHandshake,
		Payload: model.HandshakeMsg{Type: model.RTS, SenderID: a.id},
		Size:    model.HandshakeMsgSize,
	}
	if err := n.Send(f); err != nil {
		a.retryOrDrop(n, err.Error())
		return
	}
	a.stats.RTS++
	a.awaitingCTS = true
	n.Dbg("radio_pack", "RTS for message %d", a.pending.SeqNum)
}

func (a *App) sendData(n *engine.Node) {
	msg := *a.pending
	f := &model.Frame{
		Dst:     a.cfg.BaseStation,
		Type:    model.AMMyMsg,
		Payload: msg,
		Size:    model.DataMsgSize,
		WantAck: true,
	}
	if err := n.Send(f); err != nil {
		a.retryOrDrop(n, err.Error())
		return
	}
	a.stats.Sent++
	n.Dbg("radio_pack", "Message %d to %d, retries %d", msg.SeqNum, f.Dst, msg.Retries)
}

func (a *App) retryOrDrop(n *engine.Node, reason string) {
	a.awaitingCTS = false
	if a.pending == nil {
		return
	}
	if int(a.pending.Retries) >= a.cfg.MaxRetries {
		a.stats.Failed++
		n.Dbg("Radio", "Giving up on message %d: %s", a.pending.SeqNum, reason)
		a.pending = nil
		return
	}
	a.pending.Retries++
	a.stats.Retries++
	delay := n.MAC().Backoff(n.Rand(), int(a.pending.Retries))
	n.Dbg("Radio", "Retrying message %d (%s), attempt %d", a.pending.SeqNum, reason, a.pending.Retries)
	n.After(delay, func() { a.attempt(n) })
}

// SendDone handles the end of a data or handshake transmission.
func (a *App) SendDone(n *engine.Node, f *model.Frame, err error, acked bool) {
	switch f.Type {
	case model.AMHandshake:
		hs, _ := f.Payload.(model.HandshakeMsg)
		if hs.Type != model.RTS {
			return
		}
		if err != nil {
			a.retryOrDrop(n, err.Error())
			return
		}
		if a.awaitingCTS {
			a.ctsTimer = n.After(a.cfg.CTSTimeout, func() {
				a.ctsTimer = ""
				if a.awaitingCTS {
					a.retryOrDrop(n, "no CTS")
				}
			})
		}
	case model.AMMyMsg:
		if err != nil {
			a.retryOrDrop(n, err.Error())
			return
		}
		if !acked {
			a.retryOrDrop(n, "no ack")
			return
		}
		a.stats.Acked++
		if a.pending != nil {
			n.Dbg("radio_ack", "Message %d acknowledged", a.pending.SeqNum)
		}
		a.pending = nil
	}
}

// Receive handles frames delivered to the node.
func (a *App) Receive(n *engine.Node, f *model.Frame) {
	switch p := f.Payload.(type) {
	case model.DataMsg:
		if a.isBase() {
			a.recordData(n, p)
		}
	case model.HandshakeMsg:
		if p.Type == model.RTS && a.isBase() {
			a.grant(n, p.SenderID)
			return
		}
		if p.Type == model.CTS && p.SenderID != a.id && !a.isBase() {
			a.holdOff(n, p.SenderID)
			return
		}
		if p.Type == model.CTS && p.SenderID == a.id && a.awaitingCTS {
			a.awaitingCTS = false
			if a.ctsTimer != "" {
				n.CancelTimer(a.ctsTimer)
				a.ctsTimer = ""
			}
			n.Dbg("radio_rec", "CTS received")
			a.sendData(n)
		}
	}
}

// holdOff keeps the mote off the air while the base station serves the
// exchange it granted to owner. An RTS of ours that is already on air lost
// the contention, so it is retried once the reservation ends.
func (a *App) holdOff(n *engine.Node, owner model.NodeID) {
	n.Reserve(n.MAC().Reservation(model.DataMsgSize))
	n.Dbg("radio_rec", "CTS for %d, holding off until %.6f [sec]", owner, timectrl.Seconds(n.ReservedUntil()))
	if a.awaitingCTS && a.ctsTimer != "" {
		n.CancelTimer(a.ctsTimer)
		a.ctsTimer = ""
		a.retryOrDrop(n, fmt.Sprintf("channel granted to %d", owner))
	}
}

func (a *App) recordData(n *engine.Node, m model.DataMsg) {
	s := a.sender(m.SenderID)
	if s.Received > 0 && m.SeqNum <= s.LastSeq {
		s.Duplicates++
		n.Dbg("radio_rec", "Duplicate message %d from %d", m.SeqNum, m.SenderID)
		return
	}
	s.Received++
	s.Retries += int(m.Retries)
	s.LastSeq = m.SeqNum
	n.Dbg("radio_rec", "Message %d from %d, retries %d", m.SeqNum, m.SenderID, m.Retries)
}

// grant answers an RTS with a broadcast CTS naming the requester.
func (a *App) grant(n *engine.Node, requester model.NodeID) {
	a.sender(requester).RTS++
	f := &model.Frame{
		Dst:     model.Broadcast,
		Type:    model.AMHandshake,
		Payload: model.HandshakeMsg{Type: model.CTS, SenderID: requester},
		Size:    model.HandshakeMsgSize,
	}
	if err := n.Send(f); err != nil {
		n.Dbg("Radio", "CTS to %d not sent: %v", requester, err)
		return
	}
	n.Dbg("radio_pack", "CTS to %d", requester)
}

func (a *App) sender(id model.NodeID) *SenderStats {
	s, ok := a.senders[id]
	if !ok {
		s = &SenderStats{}
		a.senders[id] = s
	}
	return s
}

func (a *App) armLogTimer(n *engine.Node) {
	n.After(a.cfg.LogInterval, func() {
		for _, line := range a.Report() {
			n.Dbg("role", "%s", line)
		}
		a.armLogTimer(n)
	})
}

// Report renders the base station statistics, one line per sender in id
// order.
func (a *App) Report() []string {
	ids := make([]model.NodeID, 0, len(a.senders))
	for id := range a.senders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		s := a.senders[id]
		lines = append(lines, fmt.Sprintf("Node %d: received %d, duplicates %d, retries %d, rts %d",
			id, s.Received, s.Duplicates, s.Retries, s.RTS))
	}
	return lines
}
