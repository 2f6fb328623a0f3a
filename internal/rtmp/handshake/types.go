package handshake

// RTMP simple handshake constants. C0/S0 carry a single version byte; C1, S1,
// C2 and S2 are 1536-byte blocks laid out as time(4) | zero(4) | random(1528).
const (
	Version           = 0x03
	PacketSize        = 1536
	randomFieldOffset = 8
)

// State is the server-side handshake progression. Transitions only move
// forward: Uninitialized → VersionSent → AckSent → Done.
type State uint8

const (
	StateUninitialized State = iota
	StateVersionSent
	StateAckSent
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateVersionSent:
		return "VersionSent"
	case StateAckSent:
		return "AckSent"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}
