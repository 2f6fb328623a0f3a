// Package errors defines the relay's error taxonomy. Protocol-layer failures
// (sniffing, handshake, chunk framing) are fatal to a single connection and
// never to the process; callers classify them with IsProtocolError and layer
// context with fmt.Errorf("...: %w", err).
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// protocolMarker is implemented by every error type that means "this peer
// spoke the wire protocol wrongly".
type protocolMarker interface {
	error
	isProtocol()
}

func format(kind, op string, cause error) string {
	if cause == nil {
		return fmt.Sprintf("%s error: %s", kind, op)
	}
	return fmt.Sprintf("%s error: %s: %v", kind, op, cause)
}

// ProtocolError covers protocol violations that are not specific to the
// handshake or chunk layers, e.g. an unrecognised first byte.
type ProtocolError struct {
	Op  string // e.g. "sniff", "session.feed"
	Err error
}

func (e *ProtocolError) Error() string { return format("protocol", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) isProtocol()   {}

// HandshakeError indicates a C0/C1/C2 exchange that cannot be completed.
type HandshakeError struct {
	Op  string
	Err error
}

func (e *HandshakeError) Error() string { return format("handshake", e.Op, e.Err) }
func (e *HandshakeError) Unwrap() error { return e.Err }
func (e *HandshakeError) isProtocol()   {}

// ChunkError indicates a framing violation in the chunk stream: an
// over-length declared message, a continuation without context, or a
// malformed control payload.
type ChunkError struct {
	Op  string
	Err error
}

func (e *ChunkError) Error() string { return format("chunk", e.Op, e.Err) }
func (e *ChunkError) Unwrap() error { return e.Err }
func (e *ChunkError) isProtocol()   {}

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) a TimeoutError, a context
// deadline, or any error exposing Timeout() bool that returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	return stdErrors.As(err, &toErr) && toErr.Timeout()
}

// IsProtocolError reports whether the chain contains a ProtocolError,
// HandshakeError or ChunkError.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

func NewProtocolError(op string, cause error) error  { return &ProtocolError{Op: op, Err: cause} }
func NewHandshakeError(op string, cause error) error { return &HandshakeError{Op: op, Err: cause} }
func NewChunkError(op string, cause error) error     { return &ChunkError{Op: op, Err: cause} }
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}
