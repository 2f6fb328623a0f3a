package control

import (
	"fmt"
	"log/slog"

	"github.com/alxayo/go-rtmp-relay/internal/rtmp/chunk"
)

// ChunkSizer is the state a control message can change. *chunk.Parser
// satisfies it.
type ChunkSizer interface {
	MaxChunkSize() uint32
	SetMaxChunkSize(uint32) error
}

// Handle applies a protocol control message to target. Messages that are
// not protocol control return an error so the caller can route them
// elsewhere.
func Handle(target ChunkSizer, msg *chunk.Message, log *slog.Logger) error {
	if target == nil || msg == nil {
		return fmt.Errorf("control handler: nil target or message")
	}
	decoded, err := Decode(msg.TypeID, msg.Payload)
	if err != nil {
		return err
	}
	switch v := decoded.(type) {
	case *SetChunkSize:
		old := target.MaxChunkSize()
		if err := target.SetMaxChunkSize(v.Size); err != nil {
			return err
		}
		if log != nil {
			log.Debug("Set Chunk Size received", "old", old, "new", v.Size)
		}
	case *Ignored:
		if log != nil {
			log.Debug("Protocol control message ignored", "type_id", v.TypeID, "len", len(msg.Payload))
		}
	}
	return nil
}
