package control

import (
	"testing"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/chunk"
)

func TestDecodeSetChunkSize(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		want    uint32
		wantErr bool
	}{
		{name: "256", payload: []byte{0x00, 0x00, 0x01, 0x00}, want: 256},
		{name: "4096 with trailing bytes", payload: []byte{0x00, 0x00, 0x10, 0x00, 0xFF}, want: 4096},
		{name: "zero", payload: []byte{0, 0, 0, 0}, wantErr: true},
		{name: "top bit", payload: []byte{0x80, 0, 0, 1}, wantErr: true},
		{name: "short", payload: []byte{0, 1}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Decode(TypeSetChunkSize, tc.payload)
			if tc.wantErr {
				if !rerrors.IsProtocolError(err) {
					t.Fatalf("expected framing error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if scs, ok := v.(*SetChunkSize); !ok || scs.Size != tc.want {
				t.Fatalf("unexpected decode %#v", v)
			}
		})
	}
}

func TestDecodeOtherTypes(t *testing.T) {
	for typeID := TypeAbortMessage; typeID <= TypeSetPeerBandwidth; typeID++ {
		v, err := Decode(typeID, nil)
		if err != nil {
			t.Fatalf("type %d: %v", typeID, err)
		}
		if ig, ok := v.(*Ignored); !ok || ig.TypeID != typeID {
			t.Fatalf("type %d: expected Ignored, got %#v", typeID, v)
		}
	}
	if _, err := Decode(9, []byte{1}); err == nil {
		t.Fatalf("expected error for non-control type")
	}
}

func TestHandleUpdatesParser(t *testing.T) {
	p := chunk.NewParser(0)
	if err := Handle(p, EncodeSetChunkSize(256), nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if p.MaxChunkSize() != 256 {
		t.Fatalf("expected 256, got %d", p.MaxChunkSize())
	}
	ack := &chunk.Message{TypeID: TypeAcknowledgement, Payload: []byte{0, 0, 0, 1}}
	if err := Handle(p, ack, nil); err != nil {
		t.Fatalf("Handle ack: %v", err)
	}
	if p.MaxChunkSize() != 256 {
		t.Fatalf("ack must not change chunk size")
	}
}

func TestIsProtocolControl(t *testing.T) {
	for typeID, want := range map[uint8]bool{0: false, 1: true, 6: true, 8: false, 9: false, 0x14: false} {
		if IsProtocolControl(typeID) != want {
			t.Fatalf("IsProtocolControl(%d) != %v", typeID, want)
		}
	}
}
