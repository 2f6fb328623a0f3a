package chunk

import (
	"encoding/binary"
	"fmt"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
)

// AppendBasicHeader appends the 1-3 byte basic header for fmtID/csid.
func AppendBasicHeader(dst []byte, fmtID uint8, csid uint32) ([]byte, error) {
	if fmtID > 3 {
		return dst, rerrors.NewChunkError("writer.basic_header", fmt.Errorf("invalid fmt %d", fmtID))
	}
	top := fmtID << 6
	switch {
	case csid >= 2 && csid <= 63:
		return append(dst, top|byte(csid)), nil
	case csid >= 64 && csid <= 319:
		return append(dst, top, byte(csid-64)), nil
	case csid >= 320 && csid <= 65599:
		v := csid - 64
		return append(dst, top|1, byte(v), byte(v>>8)), nil
	default:
		return dst, rerrors.NewChunkError("writer.basic_header", fmt.Errorf("csid %d out of range", csid))
	}
}

// AppendChunk encodes h and payload as a single chunk in the framing the
// Parser reads: basic header, then for fmt 0-2 the 11-byte big-endian
// message header, then the payload. MessageLength is taken from payload.
func AppendChunk(dst []byte, h Header, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFFFF {
		return dst, rerrors.NewChunkError("writer.length", fmt.Errorf("payload %d exceeds 24 bits", len(payload)))
	}
	out, err := AppendBasicHeader(dst, h.FMT, h.CSID)
	if err != nil {
		return dst, err
	}
	if h.FMT < 3 {
		n := uint32(len(payload))
		out = append(out,
			byte(h.Timestamp>>16), byte(h.Timestamp>>8), byte(h.Timestamp),
			byte(n>>16), byte(n>>8), byte(n),
			h.MessageTypeID)
		out = binary.BigEndian.AppendUint32(out, h.MessageStreamID)
	}
	return append(out, payload...), nil
}
