package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/go-rtmp-relay/internal/logger"
	"github.com/alxayo/go-rtmp-relay/internal/relay"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/handshake"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/server/hooks"
)

func TestMain(m *testing.M) {
	logger.UseWriter(io.Discard)
	os.Exit(m.Run())
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	s := New(cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// dialRTMP connects and completes the handshake.
func dialRTMP(t *testing.T, s *Server) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", s.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	hs := make([]byte, 1+2*handshake.PacketSize)
	hs[0] = handshake.Version
	for i := 1; i < len(hs); i++ {
		hs[i] = byte(i)
	}
	if _, err := c.Write(hs); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	reply := make([]byte, len(hs))
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(c, reply); err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if reply[0] != handshake.Version {
		t.Fatalf("S0 = %d", reply[0])
	}
	_ = c.SetReadDeadline(time.Time{})
	return c
}

func sendMessage(t *testing.T, c net.Conn, typeID uint8, payload []byte) {
	t.Helper()
	b, err := chunk.AppendChunk(nil, chunk.Header{FMT: 0, CSID: 4, MessageTypeID: typeID, MessageStreamID: 1}, payload)
	if err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if _, err := c.Write(b); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

// expectClosed asserts the server closes c without sending anything.
func expectClosed(t *testing.T, c net.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := c.Read(make([]byte, 16))
	if err == nil || n != 0 {
		t.Fatalf("expected close, read %d bytes err %v", n, err)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatalf("connection was not closed")
	}
}

func streamByPath(t *testing.T, s *Server, path string) (relay.StreamInfo, bool) {
	t.Helper()
	streams, err := s.Streams()
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	for _, st := range streams {
		if st.Path == path {
			return st, true
		}
	}
	return relay.StreamInfo{}, false
}

func TestServerStartStop(t *testing.T) {
	s := New(Config{ListenAddr: "127.0.0.1:0"})
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if s.Addr() == nil {
		t.Fatalf("expected non-nil addr")
	}
	if err := s.Start(); err == nil {
		t.Fatalf("second start succeeded")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if _, err := s.Streams(); err != ErrServerClosed {
		t.Fatalf("Streams after stop = %v", err)
	}
}

func TestServerAcceptAndGracefulShutdown(t *testing.T) {
	s := New(Config{ListenAddr: "127.0.0.1:0"})
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	c, err := net.DialTimeout("tcp", s.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	waitFor(t, "connection tracked", func() bool { return s.ConnectionCount() == 1 })

	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if s.ConnectionCount() != 0 {
		t.Fatalf("connections after stop = %d", s.ConnectionCount())
	}
	expectClosed(t, c)
}

func TestUnknownProtocolClosedWithoutReply(t *testing.T) {
	s := startServer(t, Config{})
	c, err := net.DialTimeout("tcp", s.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClosed(t, c)
	waitFor(t, "connection removed", func() bool { return s.ConnectionCount() == 0 })
}

func TestRelayFanOut(t *testing.T) {
	s := startServer(t, Config{Resolver: CommandResolver{}})

	prod := dialRTMP(t, s)
	sendMessage(t, prod, 20, []byte("publish live/a"))
	waitFor(t, "producer registered", func() bool { _, ok := streamByPath(t, s, "live/a"); return ok })

	var consumers []net.Conn
	for i := 0; i < 3; i++ {
		c := dialRTMP(t, s)
		sendMessage(t, c, 20, []byte("play live/a"))
		consumers = append(consumers, c)
	}
	waitFor(t, "consumers subscribed", func() bool {
		st, _ := streamByPath(t, s, "live/a")
		return len(st.Consumers) == 3
	})

	// Control messages are consumed; only the media payloads are relayed.
	setChunk, _ := chunk.AppendChunk(nil, chunk.Header{CSID: 2, MessageTypeID: 1}, []byte{0, 0, 1, 0})
	if _, err := prod.Write(setChunk); err != nil {
		t.Fatalf("write set chunk size: %v", err)
	}
	first := bytes.Repeat([]byte{0xAB}, 200)
	second := []byte("second")
	sendMessage(t, prod, 9, first)
	sendMessage(t, prod, 8, second)

	want := append(append([]byte(nil), first...), second...)
	for i, c := range consumers {
		got := make([]byte, len(want))
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, err := io.ReadFull(c, got); err != nil {
			t.Fatalf("consumer %d read: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("consumer %d got unexpected bytes", i)
		}
	}

	st, _ := streamByPath(t, s, "live/a")
	if st.Messages != 2 || st.Bytes != uint64(len(want)) {
		t.Fatalf("stream counters %d/%d", st.Messages, st.Bytes)
	}
}

func TestConsumerBytesOutCountsRelayedPayload(t *testing.T) {
	s := startServer(t, Config{Resolver: CommandResolver{}})

	prod := dialRTMP(t, s)
	sendMessage(t, prod, 20, []byte("publish live/count"))
	waitFor(t, "producer registered", func() bool { _, ok := streamByPath(t, s, "live/count"); return ok })

	cons := dialRTMP(t, s)
	sendMessage(t, cons, 20, []byte("play live/count"))
	var consID string
	waitFor(t, "consumer subscribed", func() bool {
		st, _ := streamByPath(t, s, "live/count")
		if len(st.Consumers) != 1 {
			return false
		}
		consID = st.Consumers[0]
		return true
	})

	payload := bytes.Repeat([]byte{0x5A}, 100)
	sendMessage(t, prod, 9, payload)
	got := make([]byte, len(payload))
	_ = cons.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(cons, got); err != nil {
		t.Fatalf("consumer read: %v", err)
	}

	want := uint64(1+2*handshake.PacketSize) + uint64(len(payload))
	waitFor(t, "consumer bytes_out", func() bool {
		conns, err := s.Connections()
		if err != nil {
			return false
		}
		for _, ci := range conns {
			if ci.ID == consID {
				return ci.BytesOut == want
			}
		}
		return false
	})
}

func TestDuplicatePublishClosesSecond(t *testing.T) {
	s := startServer(t, Config{Resolver: CommandResolver{}})
	first := dialRTMP(t, s)
	sendMessage(t, first, 20, []byte("publish live/dup"))
	waitFor(t, "first producer", func() bool { _, ok := streamByPath(t, s, "live/dup"); return ok })

	second := dialRTMP(t, s)
	sendMessage(t, second, 20, []byte("publish live/dup"))
	expectClosed(t, second)

	st, ok := streamByPath(t, s, "live/dup")
	if !ok {
		t.Fatalf("original producer lost")
	}
	conns, _ := s.Connections()
	if len(conns) != 1 || conns[0].ID != st.ProducerID {
		t.Fatalf("connections = %+v, producer %s", conns, st.ProducerID)
	}
}

func TestPlayUnknownPathCloses(t *testing.T) {
	s := startServer(t, Config{Resolver: CommandResolver{}})
	c := dialRTMP(t, s)
	sendMessage(t, c, 20, []byte("play live/none"))
	expectClosed(t, c)
	if n := s.Registry().Len(); n != 0 {
		t.Fatalf("registry len = %d", n)
	}
}

func TestProducerTeardownDetachesConsumers(t *testing.T) {
	s := startServer(t, Config{Resolver: CommandResolver{}})
	prod := dialRTMP(t, s)
	sendMessage(t, prod, 20, []byte("publish live/td"))
	waitFor(t, "producer", func() bool { _, ok := streamByPath(t, s, "live/td"); return ok })

	cons := dialRTMP(t, s)
	sendMessage(t, cons, 20, []byte("play live/td"))
	waitFor(t, "consumer", func() bool { st, _ := streamByPath(t, s, "live/td"); return len(st.Consumers) == 1 })

	_ = prod.Close()
	waitFor(t, "producer gone", func() bool { _, ok := streamByPath(t, s, "live/td"); return !ok })

	conns, err := s.Connections()
	if err != nil {
		t.Fatalf("Connections: %v", err)
	}
	if len(conns) != 1 || conns[0].Role != "consumer" || conns[0].Path != "live/td" {
		t.Fatalf("detached consumer should stay connected: %+v", conns)
	}

	// A new producer on the same path does not inherit the old consumer.
	prod2 := dialRTMP(t, s)
	sendMessage(t, prod2, 20, []byte("publish live/td"))
	waitFor(t, "new producer", func() bool { _, ok := streamByPath(t, s, "live/td"); return ok })
	if st, _ := streamByPath(t, s, "live/td"); len(st.Consumers) != 0 {
		t.Fatalf("consumers = %v", st.Consumers)
	}
}

func TestChunkSizeViolationCloses(t *testing.T) {
	s := startServer(t, Config{Resolver: CommandResolver{}})
	c := dialRTMP(t, s)
	sendMessage(t, c, 9, make([]byte, chunk.DefaultMaxChunkSize+1))
	expectClosed(t, c)
}

func TestPublishPlayAPI(t *testing.T) {
	s := startServer(t, Config{})
	prod := dialRTMP(t, s)
	cons := dialRTMP(t, s)
	waitFor(t, "two connections", func() bool { return s.ConnectionCount() == 2 })

	conns, err := s.Connections()
	if err != nil {
		t.Fatalf("Connections: %v", err)
	}
	if err := s.Publish(conns[0].ID, "api/stream"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Publish(conns[0].ID, "api/other"); err == nil {
		t.Fatalf("second Publish on same connection succeeded")
	}
	if err := s.Play(conns[1].ID, "api/stream"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := s.Play("missing", "api/stream"); err == nil {
		t.Fatalf("Play on unknown connection succeeded")
	}

	// Without a resolver every message from the producer is payload.
	sendMessage(t, prod, 9, []byte("frame"))
	got := make([]byte, 5)
	_ = cons.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(cons, got); err != nil || string(got) != "frame" {
		t.Fatalf("consumer got %q err %v", got, err)
	}
}

// recordingHook collects event types in arrival order.
type recordingHook struct {
	mu    sync.Mutex
	types []hooks.EventType
}

func (h *recordingHook) Execute(_ context.Context, e hooks.Event) error {
	h.mu.Lock()
	h.types = append(h.types, e.Type)
	h.mu.Unlock()
	return nil
}
func (h *recordingHook) Type() string { return "recording" }
func (h *recordingHook) ID() string   { return "rec" }

func (h *recordingHook) has(et hooks.EventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.types {
		if t == et {
			return true
		}
	}
	return false
}

func TestLifecycleHooks(t *testing.T) {
	m := hooks.NewManager(hooks.Config{Concurrency: 1}, logger.Logger())
	rec := &recordingHook{}
	if err := m.RegisterAll(rec); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	s := startServer(t, Config{Resolver: CommandResolver{}, Hooks: m})

	prod := dialRTMP(t, s)
	sendMessage(t, prod, 20, []byte("publish live/h"))
	waitFor(t, "producer", func() bool { _, ok := streamByPath(t, s, "live/h"); return ok })
	cons := dialRTMP(t, s)
	sendMessage(t, cons, 20, []byte("play live/h"))
	waitFor(t, "consumer", func() bool { st, _ := streamByPath(t, s, "live/h"); return len(st.Consumers) == 1 })
	_ = prod.Close()
	waitFor(t, "producer gone", func() bool { _, ok := streamByPath(t, s, "live/h"); return !ok })

	for _, et := range []hooks.EventType{
		hooks.EventConnectionAccept,
		hooks.EventProtocolDetected,
		hooks.EventHandshakeComplete,
		hooks.EventPublishStart,
		hooks.EventPlayStart,
		hooks.EventConsumerDetached,
		hooks.EventPublishStop,
		hooks.EventConnectionClose,
	} {
		waitFor(t, string(et), func() bool { return rec.has(et) })
	}
	_ = m.Close()
}

func TestAdminAPI(t *testing.T) {
	events := hooks.NewWebsocketHook("events", nil)
	s := startServer(t, Config{Resolver: CommandResolver{}, Events: events})
	api := httptest.NewServer(s.apiRouter(time.Now()))
	defer api.Close()

	prod := dialRTMP(t, s)
	sendMessage(t, prod, 20, []byte("publish live/api"))
	waitFor(t, "producer", func() bool { _, ok := streamByPath(t, s, "live/api"); return ok })

	get := func(path string, v any) int {
		t.Helper()
		resp, err := http.Get(api.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		if v != nil {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				t.Fatalf("decode %s: %v", path, err)
			}
		}
		return resp.StatusCode
	}

	var health map[string]any
	if code := get("/api/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health %d %v", code, health)
	}
	var streams []relay.StreamInfo
	if code := get("/api/streams", &streams); code != http.StatusOK || len(streams) != 1 {
		t.Fatalf("streams %d %+v", code, streams)
	}
	var one relay.StreamInfo
	if code := get("/api/streams/live/api", &one); code != http.StatusOK || one.Path != "live/api" {
		t.Fatalf("stream %d %+v", code, one)
	}
	if code := get("/api/streams/live/none", nil); code != http.StatusNotFound {
		t.Fatalf("missing stream status %d", code)
	}
	var conns []ConnectionInfo
	if code := get("/api/connections", &conns); code != http.StatusOK || len(conns) != 1 || conns[0].Role != "producer" {
		t.Fatalf("connections %d %+v", code, conns)
	}
	if conns[0].Handshake != handshake.StateDone.String() || conns[0].MaxChunkSize != chunk.DefaultMaxChunkSize {
		t.Fatalf("connection session info %+v", conns[0])
	}
}
