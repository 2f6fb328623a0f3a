package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"testing"
	"time"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestIsProtocolErrorClassification(t *testing.T) {
	root := stdErrors.New("root")
	hs := NewHandshakeError("c1.read", fmt.Errorf("adding context: %w", root))
	if !IsProtocolError(hs) {
		t.Fatalf("expected handshake error classified as protocol")
	}
	if !stdErrors.Is(hs, root) {
		t.Fatalf("expected errors.Is to reach root cause")
	}
	var he *HandshakeError
	if !stdErrors.As(hs, &he) || he.Op != "c1.read" {
		t.Fatalf("expected *HandshakeError with op c1.read, got %#v", hs)
	}

	for _, err := range []error{
		NewChunkError("parser.length", nil),
		NewProtocolError("sniff", stdErrors.New("unknown first byte")),
		fmt.Errorf("conn c1: %w", NewChunkError("parser.fmt3", io.ErrUnexpectedEOF)),
	} {
		if !IsProtocolError(err) {
			t.Fatalf("expected protocol classification for %v", err)
		}
	}
}

func TestIsTimeout(t *testing.T) {
	to := NewTimeoutError("transport.write", 5*time.Second, fakeTimeoutErr{})
	if !IsTimeout(to) {
		t.Fatalf("expected TimeoutError recognized")
	}
	if IsProtocolError(to) {
		t.Fatalf("timeout should not be a protocol error")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("expected context deadline recognized")
	}
	if !IsTimeout(fakeTimeoutErr{}) {
		t.Fatalf("expected net-like timeout recognized")
	}
}

func TestErrorStrings(t *testing.T) {
	cases := map[string]error{
		"protocol error: sniff":                 NewProtocolError("sniff", nil),
		"handshake error: c2.read: EOF":         NewHandshakeError("c2.read", io.EOF),
		"chunk error: parser.length":            NewChunkError("parser.length", nil),
		"timeout error: write (after 1s)":       NewTimeoutError("write", time.Second, nil),
		"timeout error: write (after 1s): boom": NewTimeoutError("write", time.Second, stdErrors.New("boom")),
	}
	for want, err := range cases {
		if got := err.Error(); got != want {
			t.Fatalf("want %q got %q", want, got)
		}
	}
}

func TestNegativePredicates(t *testing.T) {
	if IsProtocolError(nil) || IsTimeout(nil) {
		t.Fatalf("nil must classify as neither protocol nor timeout")
	}
	if IsProtocolError(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be protocol")
	}
	if IsTimeout(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be timeout")
	}
}
