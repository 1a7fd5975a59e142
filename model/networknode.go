package model

import "strconv"

// NodeID identifies a simulated mote. Ids start at 1.
type NodeID int

func (id NodeID) String() string { return strconv.Itoa(int(id)) }

// BaseStationID is the sink every other mote reports to.
const BaseStationID NodeID = 1

// Edge is one directed radio link as read from a topology file. GainDBm is
// the signal gain seen at Dst for a frame sent by Src.
type Edge struct {
	Src     NodeID
	Dst     NodeID
	GainDBm float64
}
