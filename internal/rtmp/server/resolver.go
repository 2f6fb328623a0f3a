package server

import (
	"bytes"
	"strings"

	"github.com/alxayo/go-rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/conn"
)

// Decision is a RoleResolver's verdict for one message. The zero value
// leaves the connection unbound and relays nothing.
type Decision struct {
	Role conn.Role // RoleUnset: no binding
	Path string
	// Consume drops the message after binding instead of treating it as
	// stream payload.
	Consume bool
}

// RoleResolver decides whether an assembled message on an unbound
// connection binds it as a producer or consumer. It runs on the reactor
// goroutine and must not block.
type RoleResolver interface {
	Resolve(connID string, msg *chunk.Message) Decision
}

// RoleResolverFunc adapts a function to RoleResolver.
type RoleResolverFunc func(connID string, msg *chunk.Message) Decision

func (f RoleResolverFunc) Resolve(connID string, msg *chunk.Message) Decision {
	return f(connID, msg)
}

// CommandResolver binds on a plain-text request carried in any non-control
// message: "publish <path>" or "play <path>". The request message is
// consumed. Messages that are not requests leave the connection unbound.
type CommandResolver struct{}

// maxCommandLen bounds what is inspected as a request.
const maxCommandLen = 512

func (CommandResolver) Resolve(_ string, msg *chunk.Message) Decision {
	if msg == nil || len(msg.Payload) == 0 || len(msg.Payload) > maxCommandLen {
		return Decision{}
	}
	verb, path, ok := bytes.Cut(bytes.TrimSpace(msg.Payload), []byte{' '})
	if !ok {
		return Decision{}
	}
	p := strings.TrimSpace(string(path))
	if p == "" || strings.ContainsAny(p, " \t\r\n") {
		return Decision{}
	}
	switch string(verb) {
	case "publish":
		return Decision{Role: conn.RoleProducer, Path: p, Consume: true}
	case "play":
		return Decision{Role: conn.RoleConsumer, Path: p, Consume: true}
	default:
		return Decision{}
	}
}
