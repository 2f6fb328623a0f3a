package chunk

// Chunk header decoding over an in-memory byte slice. Every parse function
// reports ok=false when the slice is too short; nothing is consumed in that
// case so the caller can retry after more bytes arrive.

import "encoding/binary"

const (
	// MessageHeaderSize is the message header length used for fmt 0, 1 and 2:
	// timestamp(3) | length(3) | type id(1) | message stream id(4).
	MessageHeaderSize = 11
)

// Header is a decoded chunk header.
type Header struct {
	FMT             uint8
	CSID            uint32
	Timestamp       uint32
	MessageLength   uint32
	MessageTypeID   uint8
	MessageStreamID uint32
}

// parseBasicHeader decodes the 1-3 byte basic header.
func parseBasicHeader(b []byte) (fmtID uint8, csid uint32, n int, ok bool) {
	if len(b) < 1 {
		return 0, 0, 0, false
	}
	fmtID = b[0] >> 6
	switch low := b[0] & 0x3F; low {
	case 0:
		if len(b) < 2 {
			return 0, 0, 0, false
		}
		return fmtID, 64 + uint32(b[1]), 2, true
	case 1:
		if len(b) < 3 {
			return 0, 0, 0, false
		}
		return fmtID, 64 + uint32(b[1]) + uint32(b[2])<<8, 3, true
	default:
		return fmtID, uint32(low), 1, true
	}
}

func readUint24(b []byte) uint32 { return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]) }

// parseMessageHeader decodes the 11-byte message header that follows the
// basic header for fmt 0-2. The message stream id is read big-endian, the
// same byte order as every other multi-byte field in the header.
func parseMessageHeader(b []byte, h *Header) bool {
	if len(b) < MessageHeaderSize {
		return false
	}
	h.Timestamp = readUint24(b[0:3])
	h.MessageLength = readUint24(b[3:6])
	h.MessageTypeID = b[6]
	h.MessageStreamID = binary.BigEndian.Uint32(b[7:11])
	return true
}
