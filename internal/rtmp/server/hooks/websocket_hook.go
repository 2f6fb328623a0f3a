package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsSendQueue    = 64
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}

// WebsocketHook fans events out to websocket subscribers. It is both a Hook
// and the http.Handler for the event feed. Subscribers that fall behind are
// dropped.
type WebsocketHook struct {
	id  string
	log *slog.Logger

	mu     sync.Mutex
	subs   map[*wsSubscriber]struct{}
	closed bool
}

type wsSubscriber struct {
	ws   *websocket.Conn
	send chan []byte
}

func NewWebsocketHook(id string, log *slog.Logger) *WebsocketHook {
	if log == nil {
		log = slog.Default()
	}
	return &WebsocketHook{id: id, log: log, subs: make(map[*wsSubscriber]struct{})}
}

func (h *WebsocketHook) Type() string { return "websocket" }
func (h *WebsocketHook) ID() string   { return h.id }

// Subscribers returns the number of attached clients.
func (h *WebsocketHook) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *WebsocketHook) Execute(_ context.Context, event Event) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("websocket hook %s: marshal: %w", h.id, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.send <- msg:
		default:
			h.removeLocked(s)
		}
	}
	return nil
}

func (h *WebsocketHook) removeLocked(s *wsSubscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.send)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *WebsocketHook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "error", err)
		return
	}
	s := &wsSubscriber{ws: ws, send: make(chan []byte, wsSendQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go h.writer(s)
	h.reader(s)
}

// reader discards client frames and detects disconnects.
func (h *WebsocketHook) reader(s *wsSubscriber) {
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	h.removeLocked(s)
	h.mu.Unlock()
	_ = s.ws.Close()
}

func (h *WebsocketHook) writer(s *wsSubscriber) {
	for msg := range s.send {
		_ = s.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := s.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	_ = s.ws.Close()
}

// Close drops every subscriber and refuses new ones.
func (h *WebsocketHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		h.removeLocked(s)
	}
	return nil
}
