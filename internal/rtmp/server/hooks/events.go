// Package hooks delivers relay lifecycle events to external sinks (stdio,
// HTTP webhooks, shell commands, MQTT, websocket subscribers) without
// blocking the reactor.
package hooks

import (
	"time"
)

// EventType names a lifecycle transition.
type EventType string

const (
	// Connection events
	EventConnectionAccept  EventType = "connection_accept"
	EventConnectionClose   EventType = "connection_close"
	EventProtocolDetected  EventType = "protocol_detected"
	EventHandshakeComplete EventType = "handshake_complete"

	// Relay events
	EventPublishStart     EventType = "publish_start"
	EventPublishStop      EventType = "publish_stop"
	EventPlayStart        EventType = "play_start"
	EventPlayStop         EventType = "play_stop"
	EventConsumerDetached EventType = "consumer_detached"
)

// AllEvents lists every event type, in lifecycle order.
var AllEvents = []EventType{
	EventConnectionAccept,
	EventProtocolDetected,
	EventHandshakeComplete,
	EventPublishStart,
	EventPlayStart,
	EventConsumerDetached,
	EventPlayStop,
	EventPublishStop,
	EventConnectionClose,
}

// Event is one lifecycle occurrence.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	ConnID    string         `json:"conn_id,omitempty"`
	Path      string         `json:"path,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current Unix time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]any),
	}
}

func (e *Event) WithConnID(connID string) *Event {
	e.ConnID = connID
	return e
}

func (e *Event) WithPath(path string) *Event {
	e.Path = path
	return e
}

func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns "type:path", falling back to "type:conn".
func (e *Event) String() string {
	if e.Path != "" {
		return string(e.Type) + ":" + e.Path
	}
	if e.ConnID != "" {
		return string(e.Type) + ":" + e.ConnID
	}
	return string(e.Type)
}
