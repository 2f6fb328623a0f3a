package chunk

// Incremental chunk parser (runs once the handshake is Done).
//
// Input bytes are appended with Write and retained until a whole chunk
// (basic header + message header + payload) is available; Next then
// consumes exactly that chunk. A payload is bounded by the negotiated max
// chunk size: the declared length is checked against that bound before any
// copy, and an over-length declaration is a fatal framing error. fmt 0-2
// all carry the full 11-byte message header; fmt 3 repeats the previous
// header of the same chunk stream.

import (
	"errors"
	"fmt"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
)

const (
	// DefaultMaxChunkSize is the chunk size in force until the peer sends
	// Set Chunk Size.
	DefaultMaxChunkSize = 128

	// MaxChunkSizeLimit is the largest value Set Chunk Size can carry (the
	// top bit of the 32-bit field must be zero).
	MaxChunkSizeLimit = 0x7FFFFFFF
)

// ErrNeedMore reports that the retained input ends mid-chunk. It is not a
// failure; call Write with more bytes and retry Next.
var ErrNeedMore = errors.New("chunk: need more data")

// Parser is not safe for concurrent use.
type Parser struct {
	pending      []byte
	maxChunkSize uint32
	prev         map[uint32]Header // last header per csid, for fmt 3
}

// NewParser creates a parser bounded by maxChunkSize (0 selects the default).
func NewParser(maxChunkSize uint32) *Parser {
	if maxChunkSize == 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Parser{maxChunkSize: maxChunkSize, prev: make(map[uint32]Header)}
}

func (p *Parser) MaxChunkSize() uint32 { return p.maxChunkSize }

// Buffered returns the number of retained, not yet parsed bytes.
func (p *Parser) Buffered() int { return len(p.pending) }

// SetMaxChunkSize installs a new payload bound. It applies to the next
// chunk parsed.
func (p *Parser) SetMaxChunkSize(size uint32) error {
	if size == 0 || size > MaxChunkSizeLimit {
		return rerrors.NewChunkError("parser.set_chunk_size", fmt.Errorf("size %d out of range", size))
	}
	p.maxChunkSize = size
	return nil
}

// Write appends input for subsequent Next calls.
func (p *Parser) Write(data []byte) {
	p.pending = append(p.pending, data...)
}

// Next returns the next complete chunk as a Message. It returns ErrNeedMore
// (consuming nothing) when the retained bytes end mid-chunk, or a
// *errors.ChunkError for framing violations.
func (p *Parser) Next() (*Message, error) {
	buf := p.pending
	fmtID, csid, n, ok := parseBasicHeader(buf)
	if !ok {
		return nil, ErrNeedMore
	}

	h := Header{FMT: fmtID, CSID: csid}
	if fmtID < 3 {
		if !parseMessageHeader(buf[n:], &h) {
			return nil, ErrNeedMore
		}
		n += MessageHeaderSize
	} else {
		prev, seen := p.prev[csid]
		if !seen {
			return nil, rerrors.NewChunkError("parser.fmt3", fmt.Errorf("no previous header for csid %d", csid))
		}
		h = prev
		h.FMT = fmtID
	}

	if h.MessageLength > p.maxChunkSize {
		return nil, rerrors.NewChunkError("parser.length",
			fmt.Errorf("csid %d declares %d bytes, max chunk size is %d", csid, h.MessageLength, p.maxChunkSize))
	}
	if uint64(len(buf)-n) < uint64(h.MessageLength) {
		return nil, ErrNeedMore
	}

	length := int(h.MessageLength)
	// The payload is copied out before consume reuses the input buffer.
	payload := make([]byte, length)
	copy(payload, buf[n:n+length])
	p.consume(n + length)
	p.prev[csid] = h

	return &Message{
		CSID:            h.CSID,
		Timestamp:       h.Timestamp,
		MessageLength:   h.MessageLength,
		TypeID:          h.MessageTypeID,
		MessageStreamID: h.MessageStreamID,
		Payload:         payload,
	}, nil
}

// consume drops n bytes from the front of the retained input, compacting
// so the backing array does not grow without bound.
func (p *Parser) consume(n int) {
	rest := copy(p.pending, p.pending[n:])
	p.pending = p.pending[:rest]
}

// Release drops retained input. The parser must not be used afterwards.
func (p *Parser) Release() {
	p.pending = nil
}
