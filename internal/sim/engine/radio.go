package engine

import (
	"github.com/signalsfoundry/mote-simulator/core"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// reception is one frame arriving at one receiver.
type reception struct {
	frame     *model.Frame
	signalDBm float64
	end       timectrl.Ticks
	corrupted bool

	// tx is marked acked when the addressed receiver accepts the frame.
	tx *transmission
}

type transmission struct {
	frame *model.Frame
	acked bool
}

// channelEnergy is the strongest energy node n senses right now: its own
// noise sample or any frame on air that n can hear.
func (e *Engine) channelEnergy(n *Node) float64 {
	energy := n.Noise()
	now := e.Time()
	for _, other := range e.Nodes() {
		if other == n || other.txUntil <= now {
			continue
		}
		if g, ok := e.radio.Gain(other.ID(), n.ID()); ok {
			if s := e.mac.TxPowerDBm + g; s > energy {
				energy = s
			}
		}
	}
	return energy
}

// csmaAttempt samples the channel and either transmits or backs off.
func (e *Engine) csmaAttempt(n *Node, f *model.Frame, attempt int) {
	now := e.Time()
	if wait := n.navUntil - now; wait > 0 {
		// Virtual carrier sense: wait out the reservation without spending
		// an attempt, then back off so deferred nodes do not start together.
		n.After(wait+e.mac.Backoff(e.rng, 0), func() { e.csmaAttempt(n, f, attempt) })
		return
	}
	energy := e.channelEnergy(n)
	busy := energy > e.mac.CCAThresholdDBm || n.txUntil > now || len(n.receptions) > 0
	if busy {
		if attempt+1 >= e.mac.Iterations() {
			e.count(OutcomeBusy)
			n.Dbg("Radio", "CSMA gave up after %d attempts, energy %.1f dBm", attempt+1, energy)
			n.sendDone(f, ErrChannelBusy, false)
			return
		}
		n.After(e.mac.Backoff(e.rng, attempt+1), func() { e.csmaAttempt(n, f, attempt+1) })
		return
	}
	e.transmit(n, f)
}

// transmit puts f on air and starts a reception at every node that hears n.
func (e *Engine) transmit(n *Node, f *model.Frame) {
	now := e.Time()
	airTime := e.mac.AirTime(f.Size)
	end := now + airTime
	n.txUntil = end
	tx := &transmission{frame: f}

	e.count(OutcomeSent)
	n.Dbg("Radio", "Transmitting AM %d to %d, %d bytes, until %.6f [sec]", f.Type, f.Dst, f.Size, timectrl.Seconds(end))

	for _, dstID := range e.radio.Neighbors(n.ID()) {
		dst := e.handle(dstID)
		if dst == nil || !dst.IsOn() {
			continue
		}
		gain, _ := e.radio.Gain(n.ID(), dstID)
		rec := &reception{frame: f, signalDBm: e.mac.TxPowerDBm + gain, end: end, tx: tx}
		e.beginReception(dst, rec)
	}

	done := end
	if f.WantAck && !f.IsBroadcast() {
		done = end + e.mac.AckDelay()
	}
	e.Schedule(done, func() {
		if tx.acked {
			e.count(OutcomeAcked)
			n.Dbg("radio_ack", "Frame to %d acknowledged", f.Dst)
		}
		n.sendDone(f, nil, tx.acked)
	})
}

// beginReception registers rec at dst and applies half-duplex and capture
// rules against receptions already in progress.
func (e *Engine) beginReception(dst *Node, rec *reception) {
	now := e.Time()
	if dst.txUntil > now {
		rec.corrupted = true
	}
	for _, other := range dst.receptions {
		if !e.radio.Captures(other.signalDBm, rec.signalDBm) {
			other.corrupted = true
		}
		if !e.radio.Captures(rec.signalDBm, other.signalDBm) {
			rec.corrupted = true
		}
	}
	dst.receptions = append(dst.receptions, rec)
	e.Schedule(rec.end, func() { e.endReception(dst, rec) })
}

// endReception decides the fate of rec once its last bit has arrived.
func (e *Engine) endReception(dst *Node, rec *reception) {
	for i, r := range dst.receptions {
		if r == rec {
			dst.receptions = append(dst.receptions[:i], dst.receptions[i+1:]...)
			break
		}
	}

	f := rec.frame
	addressed := f.Dst == dst.ID() || f.IsBroadcast()
	if !dst.IsOn() {
		return
	}

	if rec.corrupted {
		if addressed {
			e.countCollision(f.Type)
			dst.Dbg("Radio", "Collision on frame from %d", f.Src)
		}
		return
	}

	noise := dst.Noise()
	snr := core.SNR(rec.signalDBm, noise)
	if e.rng.Float64() >= e.radio.PRR(snr) {
		if addressed {
			e.count(OutcomeLost)
			dst.Dbg("Radio", "Lost frame from %d, SNR %.1f dB (%s)", f.Src, snr, core.ClassifyQuality(snr))
		}
		return
	}
	if !addressed {
		return
	}

	if f.IsBroadcast() {
		e.count(OutcomeBroadcast)
	} else {
		e.count(OutcomeDelivered)
	}
	dst.Dbg("radio_rec", "Received AM %d from %d, SNR %.1f dB", f.Type, f.Src, snr)
	if f.WantAck && !f.IsBroadcast() && e.radio.Connected(dst.ID(), f.Src) {
		rec.tx.acked = true
	}
	if dst.app != nil {
		dst.app.Receive(dst, f)
	}
}
