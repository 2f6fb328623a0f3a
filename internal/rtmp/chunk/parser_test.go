package chunk

import (
	"bytes"
	"errors"
	"testing"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
)

func mustChunk(t *testing.T, h Header, payload []byte) []byte {
	t.Helper()
	b, err := AppendChunk(nil, h, payload)
	if err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	return b
}

func TestParser_SingleChunk(t *testing.T) {
	payload := []byte("hello rtmp")
	p := NewParser(0)
	p.Write(mustChunk(t, Header{CSID: 5, Timestamp: 1000, MessageTypeID: 8, MessageStreamID: 1}, payload))

	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.CSID != 5 || msg.Timestamp != 1000 || msg.TypeID != 8 || msg.MessageStreamID != 1 || !bytes.Equal(msg.Payload, payload) {
		t.Fatalf("unexpected msg: %+v", msg)
	}
	if p.Buffered() != 0 {
		t.Fatalf("expected all input consumed, %d left", p.Buffered())
	}
	if _, err := p.Next(); !errors.Is(err, ErrNeedMore) {
		t.Fatalf("expected ErrNeedMore on empty input, got %v", err)
	}
}

func TestParser_ByteAtATime(t *testing.T) {
	wire := mustChunk(t, Header{CSID: 4, MessageTypeID: 9, MessageStreamID: 1}, bytes.Repeat([]byte{0xAB}, 100))
	p := NewParser(0)
	for i, b := range wire[:len(wire)-1] {
		p.Write([]byte{b})
		if _, err := p.Next(); !errors.Is(err, ErrNeedMore) {
			t.Fatalf("byte %d: expected ErrNeedMore, got %v", i, err)
		}
	}
	p.Write(wire[len(wire)-1:])
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("final Next: %v", err)
	}
	if len(msg.Payload) != 100 {
		t.Fatalf("expected 100 byte payload, got %d", len(msg.Payload))
	}
}

func TestParser_SeveralChunksOneWrite(t *testing.T) {
	var wire []byte
	for i := 0; i < 3; i++ {
		wire = append(wire, mustChunk(t, Header{CSID: 6, Timestamp: uint32(i), MessageTypeID: 9}, []byte{byte(i)})...)
	}
	p := NewParser(0)
	p.Write(wire)
	for i := 0; i < 3; i++ {
		msg, err := p.Next()
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if msg.Timestamp != uint32(i) || msg.Payload[0] != byte(i) {
			t.Fatalf("chunk %d out of order: %+v", i, msg)
		}
	}
}

func TestParser_PayloadSurvivesLaterInput(t *testing.T) {
	first := bytes.Repeat([]byte{0x11}, 64)
	p := NewParser(0)
	p.Write(mustChunk(t, Header{CSID: 4, MessageTypeID: 9}, first))
	p.Write(mustChunk(t, Header{CSID: 4, MessageTypeID: 9}, bytes.Repeat([]byte{0x22}, 64)))

	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	// Compaction and new input must not touch a returned payload.
	if _, err := p.Next(); err != nil {
		t.Fatalf("second Next: %v", err)
	}
	p.Write(mustChunk(t, Header{CSID: 4, MessageTypeID: 9}, bytes.Repeat([]byte{0x33}, 64)))
	if !bytes.Equal(msg.Payload, first) {
		t.Fatalf("first payload overwritten: % x", msg.Payload[:8])
	}
	if cap(msg.Payload) != len(first) {
		t.Fatalf("payload cap = %d, want %d", cap(msg.Payload), len(first))
	}
}

func TestParser_BasicHeaderForms(t *testing.T) {
	cases := []struct {
		csid      uint32
		headerLen int
	}{
		{csid: 3, headerLen: 1},
		{csid: 63, headerLen: 1},
		{csid: 64, headerLen: 2},
		{csid: 319, headerLen: 2},
		{csid: 320, headerLen: 3},
		{csid: 65599, headerLen: 3},
	}
	for _, tc := range cases {
		wire := mustChunk(t, Header{CSID: tc.csid, MessageTypeID: 8}, []byte{1, 2})
		if got := len(wire) - MessageHeaderSize - 2; got != tc.headerLen {
			t.Fatalf("csid %d: basic header %d bytes, want %d", tc.csid, got, tc.headerLen)
		}
		p := NewParser(0)
		p.Write(wire)
		msg, err := p.Next()
		if err != nil {
			t.Fatalf("csid %d: %v", tc.csid, err)
		}
		if msg.CSID != tc.csid {
			t.Fatalf("csid round trip: got %d want %d", msg.CSID, tc.csid)
		}
	}
}

func TestParser_MessageStreamIDBigEndian(t *testing.T) {
	wire := []byte{
		0x03,             // fmt 0, csid 3
		0x00, 0x00, 0x01, // timestamp
		0x00, 0x00, 0x01, // length 1
		0x14,                   // type id
		0x00, 0x00, 0x00, 0x01, // msid 1, big-endian
		0xEE,
	}
	p := NewParser(0)
	p.Write(wire)
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.MessageStreamID != 1 || msg.MessageLength != 1 || msg.TypeID != 0x14 {
		t.Fatalf("unexpected header decode: %+v", msg)
	}
}

func TestParser_OverLengthIsFramingError(t *testing.T) {
	wire := mustChunk(t, Header{CSID: 4, MessageTypeID: 9}, make([]byte, 129))
	p := NewParser(0)
	// Only the header is needed to reject.
	p.Write(wire[:1+MessageHeaderSize])
	_, err := p.Next()
	var ce *rerrors.ChunkError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ChunkError, got %v", err)
	}
	if !rerrors.IsProtocolError(err) {
		t.Fatalf("expected protocol classification")
	}
}

func TestParser_ChunkSizeNegotiationBounds(t *testing.T) {
	p := NewParser(0)
	if err := p.SetMaxChunkSize(256); err != nil {
		t.Fatalf("SetMaxChunkSize: %v", err)
	}
	p.Write(mustChunk(t, Header{CSID: 4, MessageTypeID: 8}, make([]byte, 256)))
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("256-byte chunk rejected: %v", err)
	}
	if len(msg.Payload) != 256 {
		t.Fatalf("expected 256 byte payload, got %d", len(msg.Payload))
	}

	p.Write(mustChunk(t, Header{CSID: 4, MessageTypeID: 8}, make([]byte, 257)))
	if _, err := p.Next(); !rerrors.IsProtocolError(err) {
		t.Fatalf("expected 257-byte chunk rejected, got %v", err)
	}
}

func TestParser_SetMaxChunkSizeValidation(t *testing.T) {
	p := NewParser(0)
	for _, bad := range []uint32{0, MaxChunkSizeLimit + 1} {
		if err := p.SetMaxChunkSize(bad); err == nil {
			t.Fatalf("expected error for size %d", bad)
		}
	}
	if p.MaxChunkSize() != DefaultMaxChunkSize {
		t.Fatalf("rejected sizes must not change the bound, got %d", p.MaxChunkSize())
	}
}

func TestParser_Fmt3ReusesPreviousHeader(t *testing.T) {
	p := NewParser(0)
	p.Write(mustChunk(t, Header{CSID: 4, Timestamp: 40, MessageTypeID: 8, MessageStreamID: 1}, []byte{1, 2, 3}))
	p.Write(mustChunk(t, Header{FMT: 3, CSID: 4}, []byte{4, 5, 6}))

	if _, err := p.Next(); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("fmt3 chunk: %v", err)
	}
	if msg.TypeID != 8 || msg.Timestamp != 40 || !bytes.Equal(msg.Payload, []byte{4, 5, 6}) {
		t.Fatalf("fmt3 did not inherit header: %+v", msg)
	}
}

func TestParser_Fmt3WithoutContext(t *testing.T) {
	p := NewParser(0)
	p.Write([]byte{0xC4, 0x00})
	if _, err := p.Next(); !rerrors.IsProtocolError(err) {
		t.Fatalf("expected framing error for orphan fmt3, got %v", err)
	}
}

func TestParser_ZeroLengthMessage(t *testing.T) {
	p := NewParser(0)
	p.Write(mustChunk(t, Header{CSID: 2, MessageTypeID: 4}, nil))
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(msg.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(msg.Payload))
	}
	p.Release()
}

func TestAppendBasicHeaderRejectsReservedCSID(t *testing.T) {
	for _, csid := range []uint32{0, 1, 65600} {
		if _, err := AppendBasicHeader(nil, 0, csid); err == nil {
			t.Fatalf("expected error for csid %d", csid)
		}
	}
	if _, err := AppendBasicHeader(nil, 4, 3); err == nil {
		t.Fatalf("expected error for fmt 4")
	}
}
