package driver

import (
	"io"

	"github.com/signalsfoundry/mote-simulator/core"
	"github.com/signalsfoundry/mote-simulator/internal/sim/engine"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// ForEngine adapts the concrete simulation engine to the driver's Engine
// interface.
func ForEngine(e *engine.Engine) Engine { return engineAdapter{e: e} }

type engineAdapter struct{ e *engine.Engine }

func (a engineAdapter) MAC() *core.MACParams                { return a.e.MAC() }
func (a engineAdapter) Radio() Radio                        { return a.e.Radio() }
func (a engineAdapter) Init() error                         { return a.e.Init() }
func (a engineAdapter) AddChannel(name string, w io.Writer) { a.e.AddChannel(name, w) }
func (a engineAdapter) GetNode(id model.NodeID) Node        { return a.e.GetNode(id) }
func (a engineAdapter) RunNextEvent() bool                  { return a.e.RunNextEvent() }
func (a engineAdapter) Time() timectrl.Ticks                { return a.e.Time() }
func (a engineAdapter) TicksPerSecond() timectrl.Ticks      { return a.e.TicksPerSecond() }
