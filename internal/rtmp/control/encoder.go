package control

import (
	"encoding/binary"

	"github.com/alxayo/go-rtmp-relay/internal/rtmp/chunk"
)

// EncodeSetChunkSize builds a type 1 message on the protocol control
// channel (csid 2, msid 0).
func EncodeSetChunkSize(size uint32) *chunk.Message {
	p := binary.BigEndian.AppendUint32(nil, size)
	return &chunk.Message{CSID: 2, TypeID: TypeSetChunkSize, MessageLength: uint32(len(p)), Payload: p}
}
