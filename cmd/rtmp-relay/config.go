package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alxayo/go-rtmp-relay/internal/rtmp/server"
	"github.com/alxayo/go-rtmp-relay/internal/rtmp/server/hooks"
)

// fileConfig is the YAML config file layout. Zero fields leave the flag
// value in place.
type fileConfig struct {
	Listen        string         `yaml:"listen"`
	Backlog       int            `yaml:"backlog"`
	LogLevel      string         `yaml:"log_level"`
	APIListen     string         `yaml:"api_listen"`
	QueueSize     int            `yaml:"queue_size"`
	ReadBuffer    int            `yaml:"read_buffer"`
	WriteTimeout  time.Duration  `yaml:"write_timeout"`
	StatsInterval time.Duration  `yaml:"stats_interval"`
	Resolver      string         `yaml:"resolver"`
	Hooks         hookFileConfig `yaml:"hooks"`
}

type hookFileConfig struct {
	hooks.Config `yaml:",inline"`
	Webhooks     []string         `yaml:"webhooks"`
	Shell        []string         `yaml:"shell"`
	MQTT         hooks.MQTTConfig `yaml:"mqtt"`
}

// loadConfigFile reads and parses a YAML config file.
func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// applyFile copies file values into c for every flag not given explicitly.
func (c *cliConfig) applyFile(fc *fileConfig) {
	setString := func(name string, dst *string, v string) {
		if v != "" && !c.set[name] {
			*dst = v
		}
	}
	setInt := func(name string, dst *int, v int) {
		if v != 0 && !c.set[name] {
			*dst = v
		}
	}
	setDuration := func(name string, dst *time.Duration, v time.Duration) {
		if v != 0 && !c.set[name] {
			*dst = v
		}
	}
	setList := func(name string, dst *[]string, v []string) {
		if len(v) > 0 && !c.set[name] {
			*dst = v
		}
	}

	setString("listen", &c.listenAddr, fc.Listen)
	setInt("backlog", &c.backlog, fc.Backlog)
	setString("log-level", &c.logLevel, fc.LogLevel)
	setString("api-listen", &c.apiListen, fc.APIListen)
	setInt("queue-size", &c.queueSize, fc.QueueSize)
	setInt("read-buffer", &c.readBuffer, fc.ReadBuffer)
	setDuration("write-timeout", &c.writeTimeout, fc.WriteTimeout)
	setDuration("stats-interval", &c.statsInterval, fc.StatsInterval)
	setString("resolver", &c.resolver, fc.Resolver)
	setString("hook-stdio", &c.hookStdio, fc.Hooks.StdioFormat)
	setDuration("hook-timeout", &c.hookTimeout, fc.Hooks.Timeout)
	setList("hook-webhook", &c.hookWebhooks, fc.Hooks.Webhooks)
	setList("hook-shell", &c.hookShell, fc.Hooks.Shell)
	setString("mqtt-broker", &c.mqttBroker, fc.Hooks.MQTT.Broker)
	setString("mqtt-topic", &c.mqttTopic, fc.Hooks.MQTT.Topic)
	if fc.Hooks.Concurrency > 0 {
		c.hookConcurrency = fc.Hooks.Concurrency
	}
	if fc.Hooks.MQTT.ClientID != "" {
		c.mqttClientID = fc.Hooks.MQTT.ClientID
	}
	c.mqttQoS = fc.Hooks.MQTT.QoS
}

// serverConfig maps the merged settings onto server.Config. Hooks are
// attached by the caller.
func (c *cliConfig) serverConfig() server.Config {
	cfg := server.Config{
		ListenAddr:    c.listenAddr,
		AcceptBacklog: c.backlog,
		QueueSize:     c.queueSize,
		ReadSize:      c.readBuffer,
		WriteTimeout:  c.writeTimeout,
		StatsInterval: c.statsInterval,
		APIListen:     c.apiListen,
	}
	if c.resolver == "command" {
		cfg.Resolver = server.CommandResolver{}
	}
	return cfg
}

// buildHooks creates the hook manager and registers every configured sink
// for all events. The websocket feed is created only when the admin API is
// enabled.
func (c *cliConfig) buildHooks(log *slog.Logger) (*hooks.Manager, *hooks.WebsocketHook, error) {
	m := hooks.NewManager(hooks.Config{
		Timeout:     c.hookTimeout,
		Concurrency: c.hookConcurrency,
		StdioFormat: c.hookStdio,
	}, log.With("component", "hooks"))

	for i, u := range c.hookWebhooks {
		if err := m.RegisterAll(hooks.NewWebhookHook(fmt.Sprintf("webhook-%d", i), u, c.hookTimeout)); err != nil {
			return nil, nil, err
		}
	}
	for i, cmd := range c.hookShell {
		if err := m.RegisterAll(hooks.NewShellHook(fmt.Sprintf("shell-%d", i), "/bin/sh", "-c", cmd)); err != nil {
			return nil, nil, err
		}
	}
	if c.mqttBroker != "" {
		mq := hooks.NewMQTTHook("mqtt", hooks.MQTTConfig{
			Broker:   c.mqttBroker,
			ClientID: c.mqttClientID,
			Topic:    c.mqttTopic,
			QoS:      c.mqttQoS,
		}, log.With("component", "mqtt_hook"))
		if err := mq.Connect(5 * time.Second); err != nil {
			// The client keeps retrying in the background.
			log.Warn("MQTT broker not reachable yet", "broker", c.mqttBroker, "error", err)
		}
		if err := m.RegisterAll(mq); err != nil {
			return nil, nil, err
		}
	}

	var events *hooks.WebsocketHook
	if c.apiListen != "" {
		events = hooks.NewWebsocketHook("events", log.With("component", "event_feed"))
		if err := m.RegisterAll(events); err != nil {
			return nil, nil, err
		}
	}
	return m, events, nil
}
