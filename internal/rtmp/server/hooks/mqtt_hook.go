package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig selects the broker and topic prefix for MQTTHook.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port or full URL
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"` // events go to <Topic>/<event type>
	QoS      byte   `yaml:"qos"`
}

// MQTTHook publishes each event as JSON to <topic>/<event type>.
type MQTTHook struct {
	id     string
	topic  string
	qos    byte
	client mqtt.Client

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTHook builds a hook with an auto-reconnecting paho client. Call
// Connect before registering it.
func NewMQTTHook(id string, cfg MQTTConfig, log *slog.Logger) *MQTTHook {
	if log == nil {
		log = slog.Default()
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rtmp-relay-" + id
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("MQTT connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost, reconnecting", "broker", broker, "error", err)
	}
	return NewMQTTHookWithClient(id, mqtt.NewClient(opts), cfg.Topic, cfg.QoS)
}

// NewMQTTHookWithClient wraps an existing client.
func NewMQTTHookWithClient(id string, client mqtt.Client, topic string, qos byte) *MQTTHook {
	if topic == "" {
		topic = "rtmp-relay/events"
	}
	return &MQTTHook{id: id, client: client, topic: strings.TrimSuffix(topic, "/"), qos: qos}
}

// Connect waits up to timeout for the broker session.
func (h *MQTTHook) Connect(timeout time.Duration) error {
	token := h.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt hook %s: connect timeout", h.id)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt hook %s: connect: %w", h.id, err)
	}
	return nil
}

func (h *MQTTHook) Type() string { return "mqtt" }
func (h *MQTTHook) ID() string   { return h.id }

// TopicFor returns the topic event is published on.
func (h *MQTTHook) TopicFor(event Event) string { return h.topic + "/" + string(event.Type) }

func (h *MQTTHook) Execute(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		h.failed.Add(1)
		return fmt.Errorf("mqtt hook %s: marshal: %w", h.id, err)
	}
	token := h.client.Publish(h.TopicFor(event), h.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		h.failed.Add(1)
		return fmt.Errorf("mqtt hook %s: publish: %w", h.id, ctx.Err())
	}
	if err := token.Error(); err != nil {
		h.failed.Add(1)
		return fmt.Errorf("mqtt hook %s: publish: %w", h.id, err)
	}
	h.published.Add(1)
	return nil
}

// Counts returns published and failed totals.
func (h *MQTTHook) Counts() (published, failed uint64) {
	return h.published.Load(), h.failed.Load()
}

// Close disconnects with a short grace period.
func (h *MQTTHook) Close() error {
	if h.client.IsConnected() {
		h.client.Disconnect(250)
	}
	return nil
}
