package conn

import (
	"errors"
	"fmt"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
)

// Protocol is the wire protocol detected on a connection.
type Protocol uint8

const (
	ProtocolUndetermined Protocol = iota
	ProtocolRTMP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUndetermined:
		return "undetermined"
	case ProtocolRTMP:
		return "rtmp"
	default:
		return "unknown"
	}
}

// ErrUnknownProtocol is wrapped by Sniff when the first byte matches no
// supported protocol.
var ErrUnknownProtocol = errors.New("unknown protocol")

// RTMP clients open with C0, the protocol version. Real clients send 3;
// the remaining values up to 0x1F are reserved versions and below 3 are
// obsolete, so the range never overlaps printable text protocols.
const (
	rtmpVersionMin = 0x03
	rtmpVersionMax = 0x1F
)

// Sniff classifies a connection from its first inbound bytes.
func Sniff(first []byte) (Protocol, error) {
	if len(first) == 0 {
		return ProtocolUndetermined, rerrors.NewProtocolError("sniff", fmt.Errorf("no data"))
	}
	if b := first[0]; b >= rtmpVersionMin && b <= rtmpVersionMax {
		return ProtocolRTMP, nil
	}
	return ProtocolUndetermined, rerrors.NewProtocolError("sniff", fmt.Errorf("%w: first byte 0x%02x", ErrUnknownProtocol, first[0]))
}
