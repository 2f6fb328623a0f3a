package conn

// Session is the per-connection RTMP state machine: handshake first, then
// chunk parsing with protocol control handling. Feed is a pure transition
// function over buffered bytes; the caller acts on the returned Output
// (queue Reply, relay Messages) or closes the connection on error.

import (
	"errors"
	"log/slog"

	"github.com/alxayo/go-rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/control"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/handshake"
)

// Output is what one Feed call asks the caller to do.
type Output struct {
	Reply []byte // bytes to queue to the peer, in order

	// Messages are assembled non-control messages, in arrival order.
	Messages []*chunk.Message

	// HandshakeDone is set on the call that completed the handshake.
	HandshakeDone bool
}

type Session struct {
	hs     *handshake.Handshake
	parser *chunk.Parser
	log    *slog.Logger
}

// NewSession creates a session in the handshake's initial state with the
// default 128-byte max chunk size.
func NewSession(log *slog.Logger) *Session {
	return &Session{
		hs:     handshake.New(),
		parser: chunk.NewParser(chunk.DefaultMaxChunkSize),
		log:    log,
	}
}

func (s *Session) HandshakeState() handshake.State { return s.hs.State() }
func (s *Session) MaxChunkSize() uint32            { return s.parser.MaxChunkSize() }

// Feed consumes data. Truncated input is retained for the next call.
// A returned error is fatal for the connection; Output still carries
// anything produced before the failure.
func (s *Session) Feed(data []byte) (Output, error) {
	var out Output
	if !s.hs.Done() {
		n, reply, err := s.hs.Feed(data)
		out.Reply = reply
		if err != nil {
			return out, err
		}
		data = data[n:]
		if !s.hs.Done() {
			return out, nil
		}
		out.HandshakeDone = true
		if s.log != nil {
			s.log.Debug("Handshake completed", "client_version", s.hs.ClientVersion(), "c1_ts", s.hs.C1Timestamp())
		}
	}

	s.parser.Write(data)
	for {
		msg, err := s.parser.Next()
		if errors.Is(err, chunk.ErrNeedMore) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		// Control messages are applied before the next chunk is parsed so a
		// new chunk size takes effect immediately.
		if control.IsProtocolControl(msg.TypeID) {
			if err := control.Handle(s.parser, msg, s.log); err != nil {
				return out, err
			}
			continue
		}
		out.Messages = append(out.Messages, msg)
	}
}

// Close releases parser buffers.
func (s *Session) Close() {
	s.parser.Release()
}
