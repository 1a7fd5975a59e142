package core

import (
	"math/rand/v2"

	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// MACParams are the CSMA/CA timing parameters of the simulated radio stack.
// Backoff and delay values are expressed in symbol periods.
type MACParams struct {
	SymbolsPerSec  int
	BitsPerSymbol  int
	PreambleLength int // symbols
	HeaderBytes    int

	InitBackoff       int
	CongestionBackoff int
	ExponentBase      int
	// MaxIterations bounds CSMA retries; 0 means the default cap.
	MaxIterations  int
	MinFreeSamples int
	RxTxDelay      int
	AckTime        int

	// CCAThresholdDBm is the energy above which the channel is busy.
	CCAThresholdDBm float64
	// TxPowerDBm is the output power every mote transmits at.
	TxPowerDBm float64
}

const defaultMaxIterations = 8

// NewMACParams returns CC2420-like defaults.
func NewMACParams() *MACParams {
	return &MACParams{
		SymbolsPerSec:     65536,
		BitsPerSymbol:     4,
		PreambleLength:    12,
		HeaderBytes:       11,
		InitBackoff:       10,
		CongestionBackoff: 10,
		ExponentBase:      1,
		MaxIterations:     0,
		MinFreeSamples:    2,
		RxTxDelay:         11,
		AckTime:           34,
		CCAThresholdDBm:   -95,
		TxPowerDBm:        0,
	}
}

// SymbolTicks is the length of one symbol period.
func (m *MACParams) SymbolTicks() timectrl.Ticks {
	return timectrl.TicksPerSecond / timectrl.Ticks(m.SymbolsPerSec)
}

// AirTime returns how long a frame with payloadBytes of payload occupies the
// channel, including preamble and header.
func (m *MACParams) AirTime(payloadBytes int) timectrl.Ticks {
	bits := (m.HeaderBytes + payloadBytes) * 8
	symbols := m.PreambleLength + (bits+m.BitsPerSymbol-1)/m.BitsPerSymbol
	return timectrl.Ticks(symbols) * m.SymbolTicks()
}

// AckDelay is how long after a frame ends its acknowledgement arrives.
func (m *MACParams) AckDelay() timectrl.Ticks {
	return timectrl.Ticks(m.AckTime+m.RxTxDelay) * m.SymbolTicks()
}

// MaxInitialBackoff is the longest wait Backoff draws before a first CSMA
// attempt.
func (m *MACParams) MaxInitialBackoff() timectrl.Ticks {
	return timectrl.Ticks(max(m.InitBackoff, 1)*20) * m.SymbolTicks()
}

// Reservation is how long a granted exchange with payloadBytes of data holds
// the channel once its CTS has been heard: the sender's initial backoff, the
// data frame and the acknowledgement.
func (m *MACParams) Reservation(payloadBytes int) timectrl.Ticks {
	return m.MaxInitialBackoff() + m.AirTime(payloadBytes) + m.AckDelay()
}

// Iterations returns the effective CSMA retry bound.
func (m *MACParams) Iterations() int {
	if m.MaxIterations <= 0 {
		return defaultMaxIterations
	}
	return m.MaxIterations
}

// Backoff draws the wait before CSMA attempt number attempt (0-based). The
// first attempt uses InitBackoff; later ones use CongestionBackoff grown by
// ExponentBase^attempt.
func (m *MACParams) Backoff(rng *rand.Rand, attempt int) timectrl.Ticks {
	window := m.InitBackoff
	if attempt > 0 {
		window = m.CongestionBackoff
		for i := 0; i < attempt; i++ {
			window *= max(m.ExponentBase, 1)
		}
	}
	if window < 1 {
		window = 1
	}
	// Backoff is drawn in units of 20 symbols (one CSMA backoff period).
	slots := rng.IntN(window) + 1
	return timectrl.Ticks(slots*20) * m.SymbolTicks()
}
