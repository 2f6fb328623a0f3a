package control

import (
	"encoding/binary"
	"fmt"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
)

// SetChunkSize is a decoded type 1 message.
type SetChunkSize struct {
	Size uint32
}

// Ignored stands in for protocol control messages the relay consumes
// without interpreting.
type Ignored struct {
	TypeID uint8
}

// Decode decodes a protocol control payload. Set Chunk Size reads the first
// four payload bytes as a big-endian 31-bit size; zero or a set top bit is a
// framing error.
func Decode(typeID uint8, payload []byte) (any, error) {
	switch {
	case typeID == TypeSetChunkSize:
		if len(payload) < 4 {
			return nil, rerrors.NewChunkError("control.set_chunk_size", fmt.Errorf("expected 4 bytes got=%d", len(payload)))
		}
		v := binary.BigEndian.Uint32(payload[:4])
		if v == 0 {
			return nil, rerrors.NewChunkError("control.set_chunk_size", fmt.Errorf("size must be > 0"))
		}
		if v&0x80000000 != 0 {
			return nil, rerrors.NewChunkError("control.set_chunk_size", fmt.Errorf("bit 31 set, size=%d", v))
		}
		return &SetChunkSize{Size: v}, nil
	case IsProtocolControl(typeID):
		return &Ignored{TypeID: typeID}, nil
	default:
		return nil, fmt.Errorf("control: type id %d is not a protocol control message", typeID)
	}
}
