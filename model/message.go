package model

// AMType is the active-message type carried in every frame header.
type AMType uint8

const (
	// AMMyMsg carries a DataMsg.
	AMMyMsg AMType = 6
	// AMHandshake carries a HandshakeMsg.
	AMHandshake AMType = 7
)

// Handshake message kinds.
const (
	RTS uint8 = 0
	CTS uint8 = 1
)

// Broadcast is the destination address of frames addressed to every neighbour.
const Broadcast NodeID = 0xFFFF

// DataMsg is the periodic report a mote sends to the base station.
type DataMsg struct {
	SenderID NodeID
	SeqNum   uint16
	Retries  uint8
}

// HandshakeMsg is an RTS or CTS frame.
type HandshakeMsg struct {
	Type     uint8
	SenderID NodeID
}

// Wire sizes of the payloads in bytes.
const (
	DataMsgSize      = 4
	HandshakeMsgSize = 2
)

// Frame is a MAC frame travelling through the radio model.
type Frame struct {
	Src  NodeID
	Dst  NodeID
	Type AMType

	// Payload is either a DataMsg or a HandshakeMsg.
	Payload any
	// Size is the payload length in bytes.
	Size int
	// WantAck requests a link-layer acknowledgement from Dst.
	WantAck bool
}

// IsBroadcast reports whether the frame is addressed to every neighbour.
func (f *Frame) IsBroadcast() bool { return f.Dst == Broadcast }
