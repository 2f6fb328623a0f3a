// Package server runs the relay: a TCP listener, a single reactor goroutine
// that owns every connection and the stream registry, and an optional admin
// HTTP API.
//
// Only the reactor mutates connections, sessions and the registry. Socket
// reads happen on per-connection goroutines that post events to the
// reactor; socket writes are queued without blocking and drained by
// per-connection writer goroutines.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alxayo/go-rtmp-relay/internal/bufpool"
	"github.com/alxayo/go-rtmp-relay/internal/logger"
	"github.com/alxayo/go-rtmp-relay/internal/relay"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/conn"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/server/hooks"
)

// ErrServerClosed is returned by operations issued after Stop.
var ErrServerClosed = errors.New("server closed")

// Config holds server knobs. Zero values select defaults.
type Config struct {
	ListenAddr string // default ":1234"

	// AcceptBacklog is how many accepted connections may wait for the
	// reactor before the accept goroutine stops accepting (default 128).
	AcceptBacklog int

	QueueSize    int           // per-connection outbound queue depth
	ReadSize     int           // per-read buffer size
	WriteTimeout time.Duration // per-write deadline

	// StatsInterval enables periodic per-stream stats logging.
	StatsInterval time.Duration

	APIListen string // admin API address; empty disables it

	Resolver RoleResolver   // nil: connections are bound only via Publish/Play
	Hooks    *hooks.Manager // nil: no lifecycle hooks
	// Events serves the /api/events feed. Register it on Hooks as well so
	// it receives events.
	Events *hooks.WebsocketHook
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":1234"
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = 128
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ReadSize <= 0 {
		c.ReadSize = bufpool.ClassRead
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

type eventKind uint8

const (
	evRead eventKind = iota
	evClosed
	evDo
)

// event is posted to the reactor by reader goroutines and API callers.
type event struct {
	kind eventKind
	id   string
	data []byte // evRead: pooled buffer owned by the reactor
	err  error  // evClosed
	fn   func() // evDo
	done chan struct{}
}

type Server struct {
	cfg Config
	log *slog.Logger
	reg *relay.Registry

	mu      sync.Mutex
	l       net.Listener
	api     *apiServer
	started bool
	stopped bool

	accepts chan net.Conn
	events  chan event
	quit    chan struct{}
	wg      sync.WaitGroup // accept loop + reactor

	conns  map[string]*conn.Connection // reactor-owned
	connWG sync.WaitGroup              // transport goroutines

	connCount atomic.Int64
}

// New creates an unstarted Server.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:     cfg,
		log:     logger.Logger().With("component", "relay_server"),
		reg:     relay.NewRegistry(),
		accepts: make(chan net.Conn, cfg.AcceptBacklog),
		events:  make(chan event, cfg.AcceptBacklog),
		quit:    make(chan struct{}),
		conns:   make(map[string]*conn.Connection),
	}
}

// Registry exposes the stream registry for read-only inspection.
func (s *Server) Registry() *relay.Registry { return s.reg }

// Start listens and launches the accept loop and reactor. It may be called
// once.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.l = ln
	s.started = true

	if s.cfg.APIListen != "" {
		api, err := startAPI(s, s.cfg.APIListen)
		if err != nil {
			_ = ln.Close()
			return err
		}
		s.api = api
	}

	s.log.Info("Relay listening", "addr", ln.Addr().String(), "accept_backlog", s.cfg.AcceptBacklog)
	s.wg.Add(2)
	go s.acceptLoop(ln)
	go s.loop()
	return nil
}

// acceptLoop hands accepted sockets to the reactor. The accepts channel is
// the backlog: when it is full, accepting pauses.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("Accept error", "error", err)
			}
			return
		}
		select {
		case s.accepts <- nc:
		case <-s.quit:
			_ = nc.Close()
			return
		}
	}
}

// loop is the reactor.
func (s *Server) loop() {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.cfg.StatsInterval > 0 {
		t := time.NewTicker(s.cfg.StatsInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case nc := <-s.accepts:
			s.accept(nc)
		case ev := <-s.events:
			s.handle(ev)
		case <-tick:
			s.logStats()
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *Server) handle(ev event) {
	switch ev.kind {
	case evRead:
		if c, ok := s.conns[ev.id]; ok {
			s.handleRead(c, ev.data)
		}
		bufpool.Put(ev.data)
	case evClosed:
		if c, ok := s.conns[ev.id]; ok {
			s.teardown(c, ev.err)
		}
	case evDo:
		ev.fn()
		close(ev.done)
	}
}

// post delivers ev to the reactor unless the server is stopping.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the reactor and waits for it.
func (s *Server) do(fn func()) error {
	done := make(chan struct{})
	if !s.post(event{kind: evDo, fn: fn, done: done}) {
		return ErrServerClosed
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		// The reactor may have run fn before exiting.
		select {
		case <-done:
			return nil
		default:
			return ErrServerClosed
		}
	}
}

// shutdown tears down every connection through the normal lifecycle path.
func (s *Server) shutdown() {
	for _, c := range s.conns {
		s.teardown(c, ErrServerClosed)
	}
	for {
		select {
		case nc := <-s.accepts:
			_ = nc.Close()
		case ev := <-s.events:
			if ev.kind == evRead {
				bufpool.Put(ev.data)
			}
		default:
			return
		}
	}
}

// Stop closes the listener and every connection, then waits for all
// server goroutines. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ln, api := s.l, s.api
	s.mu.Unlock()

	_ = ln.Close()
	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = api.shutdown(ctx)
		cancel()
	}
	close(s.quit)
	s.wg.Wait()
	s.connWG.Wait()
	s.log.Info("Relay stopped")
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// APIAddr returns the admin API address, or nil when disabled.
func (s *Server) APIAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil
	}
	return s.api.addr
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int { return int(s.connCount.Load()) }

// Publish binds connection id as the producer of path. As with a resolver
// binding, a registry conflict closes the connection.
func (s *Server) Publish(id, path string) error {
	var err error
	if derr := s.do(func() {
		c, ok := s.conns[id]
		if !ok {
			err = fmt.Errorf("publish %s: unknown connection %s", path, id)
			return
		}
		if err = s.bindProducer(c, path); err != nil && !errors.Is(err, conn.ErrRoleAlreadySet) {
			s.teardown(c, err)
		}
	}); derr != nil {
		return derr
	}
	return err
}

// Play binds connection id as a consumer of path. An unknown path closes
// the connection.
func (s *Server) Play(id, path string) error {
	var err error
	if derr := s.do(func() {
		c, ok := s.conns[id]
		if !ok {
			err = fmt.Errorf("play %s: unknown connection %s", path, id)
			return
		}
		if err = s.bindConsumer(c, path); err != nil && !errors.Is(err, conn.ErrRoleAlreadySet) {
			s.teardown(c, err)
		}
	}); derr != nil {
		return derr
	}
	return err
}

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	Peer         string    `json:"peer"`
	Protocol     string    `json:"protocol"`
	Role         string    `json:"role"`
	Path         string    `json:"path,omitempty"`
	Handshake    string    `json:"handshake,omitempty"`
	MaxChunkSize uint32    `json:"max_chunk_size,omitempty"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
	AcceptedAt   time.Time `json:"accepted_at"`
}

// Connections snapshots every live connection, ordered by accept time.
func (s *Server) Connections() ([]ConnectionInfo, error) {
	var out []ConnectionInfo
	err := s.do(func() {
		out = make([]ConnectionInfo, 0, len(s.conns))
		for _, c := range s.conns {
			out = append(out, connectionInfo(c))
		}
	})
	sortConnections(out)
	return out, err
}

// Streams snapshots the registry from the reactor.
func (s *Server) Streams() ([]relay.StreamInfo, error) {
	var out []relay.StreamInfo
	err := s.do(func() { out = s.reg.Snapshot() })
	return out, err
}

func (s *Server) logStats() {
	for _, st := range s.reg.Snapshot() {
		s.log.Info("Stream stats",
			"path", st.Path,
			"producer_id", st.ProducerID,
			"consumers", len(st.Consumers),
			"messages", st.Messages,
			"bytes", st.Bytes,
			"uptime", time.Since(st.StartedAt).Truncate(time.Second).String())
	}
}
