package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/alxayo/go-rtmp-relay/internal/logger"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds flag values before they are merged with the config file
// and mapped onto server.Config.
type cliConfig struct {
	listenAddr    string
	backlog       int
	logLevel      string
	configPath    string
	apiListen     string
	queueSize     int
	readBuffer    int
	writeTimeout  time.Duration
	statsInterval time.Duration
	resolver      string
	hookWebhooks  []string
	hookShell     []string
	hookStdio     string
	hookTimeout   time.Duration
	mqttBroker    string
	mqttTopic     string
	showVersion   bool

	// File-only settings.
	hookConcurrency int
	mqttClientID    string
	mqttQoS         byte

	// set records which flags appeared on the command line; those win
	// over config file values.
	set map[string]bool
}

func parseFlags(args []string, out io.Writer) (*cliConfig, error) {
	fs := flag.NewFlagSet("rtmp-relay", flag.ContinueOnError)
	fs.SetOutput(out)

	cfg := &cliConfig{set: make(map[string]bool)}
	var webhooks, shells stringSliceFlag

	fs.StringVar(&cfg.listenAddr, "listen", ":1234", "TCP listen address")
	fs.IntVar(&cfg.backlog, "backlog", 128, "Accepted connections that may wait for the event loop")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.configPath, "config", "", "YAML config file; its log_level is reloaded on change")
	fs.StringVar(&cfg.apiListen, "api-listen", "", "Admin HTTP API address (empty disables)")
	fs.IntVar(&cfg.queueSize, "queue-size", 256, "Per-connection outbound queue depth")
	fs.IntVar(&cfg.readBuffer, "read-buffer", 4096, "Per-read buffer size in bytes")
	fs.DurationVar(&cfg.writeTimeout, "write-timeout", 10*time.Second, "Per-write socket deadline")
	fs.DurationVar(&cfg.statsInterval, "stats-interval", 0, "Log per-stream stats at this interval (0 disables)")
	fs.StringVar(&cfg.resolver, "resolver", "command", "Role resolver: command|none")
	fs.Var(&webhooks, "hook-webhook", "Webhook URL receiving every lifecycle event (repeatable)")
	fs.Var(&shells, "hook-shell", "Command run for every lifecycle event (repeatable)")
	fs.StringVar(&cfg.hookStdio, "hook-stdio", "", "Print lifecycle events to stderr: json|env")
	fs.DurationVar(&cfg.hookTimeout, "hook-timeout", 30*time.Second, "Per-hook execution timeout")
	fs.StringVar(&cfg.mqttBroker, "mqtt-broker", "", "MQTT broker (host:port) for lifecycle events")
	fs.StringVar(&cfg.mqttTopic, "mqtt-topic", "rtmp-relay/events", "MQTT topic prefix")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })
	cfg.hookWebhooks = webhooks
	cfg.hookShell = shells

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *cliConfig) validate() error {
	if c.backlog <= 0 {
		return fmt.Errorf("backlog must be positive, got %d", c.backlog)
	}
	if c.queueSize <= 0 {
		return fmt.Errorf("queue-size must be positive, got %d", c.queueSize)
	}
	if c.readBuffer < 128 || c.readBuffer > 1<<20 {
		return fmt.Errorf("read-buffer must be between 128 and %d", 1<<20)
	}
	if _, ok := logger.ParseLevel(c.logLevel); !ok {
		return fmt.Errorf("invalid log-level %q", c.logLevel)
	}
	switch c.resolver {
	case "command", "none":
	default:
		return fmt.Errorf("invalid resolver %q", c.resolver)
	}
	switch c.hookStdio {
	case "", "json", "env":
	default:
		return fmt.Errorf("invalid hook-stdio format %q", c.hookStdio)
	}
	for _, u := range c.hookWebhooks {
		if err := validateWebhookURL(u); err != nil {
			return fmt.Errorf("invalid webhook %q: %w", u, err)
		}
	}
	return nil
}

// stringSliceFlag implements flag.Value for repeatable string flags.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
