package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"

	"github.com/alxayo/go-rtmp-relay/internal/bufpool"
	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
	"github.com/alxayo/go-rtmp-relay/internal/logger"
	"github.com/alxayo/go-rtmp-relay/internal/relay"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/conn"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/handshake"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/server/hooks"
)

// Connection lifecycle. Everything here runs on the reactor goroutine.

func (s *Server) accept(nc net.Conn) {
	t := conn.NewTCPTransport(nc, conn.TCPOptions{
		QueueSize:    s.cfg.QueueSize,
		ReadSize:     s.cfg.ReadSize,
		WriteTimeout: s.cfg.WriteTimeout,
	}, nil)
	c := conn.New(t)
	s.conns[c.ID()] = c
	s.connCount.Add(1)

	id := c.ID()
	t.Start(func(b []byte) {
		if !s.post(event{kind: evRead, id: id, data: b}) {
			bufpool.Put(b)
		}
	}, func(err error) {
		s.post(event{kind: evClosed, id: id, err: err})
	})
	// Start has registered the transport goroutines, so Wait cannot
	// return before they exit.
	s.connWG.Add(1)
	go func() {
		defer s.connWG.Done()
		t.Wait()
	}()

	c.Log().Info("Connection accepted")
	s.trigger(hooks.NewEvent(hooks.EventConnectionAccept).
		WithConnID(id).
		WithData("peer", peerString(c)))
}

// handleRead feeds one inbound read through the connection and acts on the
// resulting output.
func (s *Server) handleRead(c *conn.Connection, data []byte) {
	detected := c.Protocol() != conn.ProtocolUndetermined
	out, feedErr := c.Feed(data)

	if !detected && c.Protocol() != conn.ProtocolUndetermined {
		s.trigger(hooks.NewEvent(hooks.EventProtocolDetected).
			WithConnID(c.ID()).
			WithData("protocol", c.Protocol().String()))
	}
	if len(out.Reply) > 0 {
		if err := c.Send(out.Reply); err != nil {
			s.teardown(c, fmt.Errorf("queue reply: %w", err))
			return
		}
	}
	if out.HandshakeDone {
		s.trigger(hooks.NewEvent(hooks.EventHandshakeComplete).WithConnID(c.ID()))
	}
	for _, msg := range out.Messages {
		if !s.dispatch(c, msg) {
			return
		}
	}
	if feedErr != nil {
		s.teardown(c, feedErr)
	}
}

// dispatch handles one assembled non-control message. It reports whether c
// is still alive.
func (s *Server) dispatch(c *conn.Connection, msg *chunk.Message) bool {
	if l := c.Log(); l.Enabled(context.Background(), slog.LevelDebug) {
		logger.WithMessage(l, msg.CSID, msg.TypeID, msg.MessageLength).Debug("Message received")
	}
	if c.Role() == conn.RoleUnset {
		if s.cfg.Resolver == nil {
			return true
		}
		d := s.cfg.Resolver.Resolve(c.ID(), msg)
		var err error
		switch d.Role {
		case conn.RoleProducer:
			err = s.bindProducer(c, d.Path)
		case conn.RoleConsumer:
			err = s.bindConsumer(c, d.Path)
		}
		if err != nil {
			s.teardown(c, err)
			return false
		}
		if d.Consume {
			return true
		}
	}

	if c.Role() != conn.RoleProducer {
		return true
	}
	failed, err := c.Producer().Broadcast(msg.Payload)
	if err != nil {
		s.teardown(c, fmt.Errorf("broadcast: %w", err))
		return false
	}
	for _, h := range failed {
		s.evict(h)
	}
	return true
}

// bindProducer registers c as the producer of path. A conflict closes c;
// the existing producer is untouched.
func (s *Server) bindProducer(c *conn.Connection, path string) error {
	if c.Role() != conn.RoleUnset {
		return conn.ErrRoleAlreadySet
	}
	p, err := s.reg.Register(path, c)
	if err != nil {
		c.Log().Warn("Publish rejected", "path", path, "error", err)
		return fmt.Errorf("publish %q: %w", path, err)
	}
	if err := c.BindProducer(path, p); err != nil {
		s.reg.Unregister(p)
		return err
	}
	c.Log().Info("Publish started")
	s.trigger(hooks.NewEvent(hooks.EventPublishStart).WithConnID(c.ID()).WithPath(path))
	return nil
}

// bindConsumer subscribes c to the producer of path. An unknown path closes
// c; no subscription is created.
func (s *Server) bindConsumer(c *conn.Connection, path string) error {
	if c.Role() != conn.RoleUnset {
		return conn.ErrRoleAlreadySet
	}
	h, err := s.reg.Subscribe(path, c)
	if err != nil {
		c.Log().Warn("Play rejected", "path", path, "error", err)
		return fmt.Errorf("play %q: %w", path, err)
	}
	if err := c.BindConsumer(path, h); err != nil {
		if p := h.Producer(); p != nil {
			p.Unsubscribe(h)
		}
		return err
	}
	c.Log().Info("Play started")
	s.trigger(hooks.NewEvent(hooks.EventPlayStart).WithConnID(c.ID()).WithPath(path))
	return nil
}

// evict closes a consumer whose delivery failed during broadcast. Broadcast
// already unsubscribed it.
func (s *Server) evict(h *relay.Consumer) {
	c, ok := h.Subscriber().(*conn.Connection)
	if !ok {
		return
	}
	if _, live := s.conns[c.ID()]; !live {
		return
	}
	s.teardown(c, errSlowConsumer)
}

var errSlowConsumer = errors.New("consumer fell behind")

// teardown removes c from the registry before releasing its transport and
// session. Detached consumers of a departing producer stay connected.
func (s *Server) teardown(c *conn.Connection, cause error) {
	if _, ok := s.conns[c.ID()]; !ok {
		return
	}
	delete(s.conns, c.ID())
	s.connCount.Add(-1)

	switch c.Role() {
	case conn.RoleProducer:
		detached := s.reg.Unregister(c.Producer())
		for _, h := range detached {
			s.trigger(hooks.NewEvent(hooks.EventConsumerDetached).
				WithConnID(h.Subscriber().ID()).
				WithPath(c.Path()))
		}
		s.trigger(hooks.NewEvent(hooks.EventPublishStop).
			WithConnID(c.ID()).
			WithPath(c.Path()).
			WithData("detached_consumers", len(detached)))
	case conn.RoleConsumer:
		if p := c.Consumer().Producer(); p != nil {
			p.Unsubscribe(c.Consumer())
		}
		s.trigger(hooks.NewEvent(hooks.EventPlayStop).WithConnID(c.ID()).WithPath(c.Path()))
	}

	_ = c.Close()
	s.logClose(c, cause)
	s.trigger(hooks.NewEvent(hooks.EventConnectionClose).
		WithConnID(c.ID()).
		WithPath(c.Path()).
		WithData("bytes_in", c.BytesIn()).
		WithData("bytes_out", c.BytesOut()))
}

func (s *Server) logClose(c *conn.Connection, cause error) {
	log := c.Log().With("role", c.Role().String(), "bytes_in", c.BytesIn(), "bytes_out", c.BytesOut())
	switch {
	case cause == nil, conn.IsClosedErr(cause), errors.Is(cause, ErrServerClosed):
		log.Debug("Connection closed", "reason", errString(cause))
	case rerrors.IsProtocolError(cause):
		log.Warn("Connection closed on protocol error", "error", cause)
	default:
		log.Warn("Connection closed", "error", cause)
	}
}

func (s *Server) trigger(e *hooks.Event) {
	if s.cfg.Hooks == nil {
		return
	}
	s.cfg.Hooks.Trigger(context.Background(), *e)
}

func connectionInfo(c *conn.Connection) ConnectionInfo {
	info := ConnectionInfo{
		ID:         c.ID(),
		Peer:       peerString(c),
		Protocol:   c.Protocol().String(),
		Role:       c.Role().String(),
		Path:       c.Path(),
		BytesIn:    c.BytesIn(),
		BytesOut:   c.BytesOut(),
		AcceptedAt: c.AcceptedAt(),
	}
	if sess := c.Session(); sess != nil {
		info.Handshake = sess.HandshakeState().String()
		if sess.HandshakeState() == handshake.StateDone {
			info.MaxChunkSize = sess.MaxChunkSize()
		}
	}
	return info
}

func sortConnections(list []ConnectionInfo) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].AcceptedAt.Equal(list[j].AcceptedAt) {
			return list[i].AcceptedAt.Before(list[j].AcceptedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func peerString(c *conn.Connection) string {
	if t := c.Transport(); t != nil && t.RemoteAddr() != nil {
		return t.RemoteAddr().String()
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
