package handshake

// Server-side RTMP handshake as an incremental state machine. The caller
// feeds whatever bytes the transport delivered; the machine consumes only
// what its current state needs, buffers partial C1/C2 blocks across calls,
// and returns the reply bytes to queue. It never touches a socket.

import (
	"fmt"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
)

// Handshake holds per-connection handshake state.
type Handshake struct {
	state         State
	clientVersion byte
	block         [PacketSize]byte // partial C1 or C2
	have          int
	c1Timestamp   uint32
}

// New returns a handshake in StateUninitialized.
func New() *Handshake { return &Handshake{} }

func (h *Handshake) State() State        { return h.state }
func (h *Handshake) Done() bool          { return h.state == StateDone }
func (h *Handshake) ClientVersion() byte { return h.clientVersion }
func (h *Handshake) C1Timestamp() uint32 { return h.c1Timestamp }

// Feed advances the state machine with data. It returns how many bytes of
// data were consumed and the bytes to send back to the peer (S0, S1 and/or
// S2, concatenated in order). Bytes left over once StateDone is reached are
// not consumed; they belong to the chunk stream. A short input is not an
// error: the partial block is retained for the next call.
func (h *Handshake) Feed(data []byte) (consumed int, reply []byte, err error) {
	for consumed < len(data) && h.state != StateDone {
		switch h.state {
		case StateUninitialized:
			h.clientVersion = data[consumed]
			consumed++
			reply = append(reply, Version)
			h.state = StateVersionSent

		case StateVersionSent, StateAckSent:
			n := copy(h.block[h.have:], data[consumed:])
			h.have += n
			consumed += n
			if h.have < PacketSize {
				return consumed, reply, nil
			}
			if h.state == StateVersionSent {
				h.c1Timestamp = uint32(h.block[0])<<24 | uint32(h.block[1])<<16 | uint32(h.block[2])<<8 | uint32(h.block[3])
			}
			reply = appendMirror(reply, h.block[:])
			h.have = 0
			h.state++

		default:
			return consumed, reply, rerrors.NewHandshakeError("feed", fmt.Errorf("invalid state %s", h.state))
		}
	}
	return consumed, reply, nil
}

// appendMirror appends a server block built from a client block: zero time,
// zero field, then the client's bytes 8..1536 verbatim.
func appendMirror(dst, client []byte) []byte {
	var zero [randomFieldOffset]byte
	dst = append(dst, zero[:]...)
	return append(dst, client[randomFieldOffset:PacketSize]...)
}
