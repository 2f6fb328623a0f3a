// Package conn models one accepted peer: its transport, the protocol
// detected on it, the RTMP session state, and the relay role it holds.
//
// A Connection is owned by the server's reactor goroutine; none of its
// methods are safe for concurrent use except Send (which only queues onto
// the transport) and ID.
package conn

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
	"github.com/alxayo/go-rtmp-relay/internal/logger"
	"github.com/alxayo/go-rtmp-relay/internal/relay"
)

// Role is the relay role a connection holds. It is set at most once.
type Role uint8

const (
	RoleUnset Role = iota
	RoleProducer
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleUnset:
		return "unset"
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// ErrRoleAlreadySet is returned when binding a connection that already has
// a role and path.
var ErrRoleAlreadySet = errors.New("connection role already set")

type Connection struct {
	id         string
	transport  Transport
	acceptedAt time.Time
	log        *slog.Logger

	proto   Protocol
	session *Session // non-nil only once proto is ProtocolRTMP

	role     Role
	path     string
	producer *relay.Producer // RoleProducer: the producer this connection owns
	consumer *relay.Consumer // RoleConsumer: its subscription handle

	bytesIn  uint64
	bytesOut uint64
}

// New wraps an accepted transport.
func New(t Transport) *Connection {
	id := uuid.NewString()
	peer := ""
	if t != nil && t.RemoteAddr() != nil {
		peer = t.RemoteAddr().String()
	}
	return &Connection{
		id:         id,
		transport:  t,
		acceptedAt: time.Now(),
		log:        logger.WithConn(logger.Logger(), id, peer),
	}
}

func (c *Connection) ID() string                { return c.id }
func (c *Connection) Log() *slog.Logger         { return c.log }
func (c *Connection) AcceptedAt() time.Time     { return c.acceptedAt }
func (c *Connection) Transport() Transport      { return c.transport }
func (c *Connection) Protocol() Protocol        { return c.proto }
func (c *Connection) Session() *Session         { return c.session }
func (c *Connection) Role() Role                { return c.role }
func (c *Connection) Path() string              { return c.path }
func (c *Connection) Producer() *relay.Producer { return c.producer }
func (c *Connection) Consumer() *relay.Consumer { return c.consumer }
func (c *Connection) BytesIn() uint64           { return c.bytesIn }
func (c *Connection) BytesOut() uint64          { return c.bytesOut }

// Send queues p on the transport. It implements relay.Subscriber.
// BytesOut counts every payload the transport accepted.
func (c *Connection) Send(p []byte) error {
	if c.transport == nil {
		return fmt.Errorf("conn %s: no transport", c.id)
	}
	if err := c.transport.Send(p); err != nil {
		return err
	}
	c.bytesOut += uint64(len(p))
	return nil
}

// Feed runs inbound bytes through the connection. The first non-empty call
// sniffs the protocol; later calls go straight to the protocol handler.
// Any error is fatal for the connection.
func (c *Connection) Feed(data []byte) (Output, error) {
	if len(data) == 0 {
		return Output{}, nil
	}
	c.bytesIn += uint64(len(data))
	if _, err := c.Detect(data); err != nil {
		return Output{}, err
	}

	switch c.proto {
	case ProtocolRTMP:
		if c.session == nil {
			c.session = NewSession(c.log)
		}
		return c.session.Feed(data)
	default:
		return Output{}, rerrors.NewProtocolError("conn.feed", fmt.Errorf("no handler for protocol %s", c.proto))
	}
}

// Detect sniffs the protocol from data the first time it is called and
// returns the cached result afterwards.
func (c *Connection) Detect(data []byte) (Protocol, error) {
	if c.proto != ProtocolUndetermined {
		return c.proto, nil
	}
	proto, err := Sniff(data)
	if err != nil {
		return proto, err
	}
	c.proto = proto
	c.log.Debug("Protocol detected", "protocol", proto.String())
	return proto, nil
}

// BindProducer records that c publishes path through p.
func (c *Connection) BindProducer(path string, p *relay.Producer) error {
	if c.role != RoleUnset {
		return ErrRoleAlreadySet
	}
	c.role, c.path, c.producer = RoleProducer, path, p
	c.log = logger.WithPath(c.log, path)
	return nil
}

// BindConsumer records that c plays path through subscription h.
func (c *Connection) BindConsumer(path string, h *relay.Consumer) error {
	if c.role != RoleUnset {
		return ErrRoleAlreadySet
	}
	c.role, c.path, c.consumer = RoleConsumer, path, h
	c.log = logger.WithPath(c.log, path)
	return nil
}

// Close releases session state and closes the transport. Registry cleanup
// is the caller's job and must happen first.
func (c *Connection) Close() error {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}
