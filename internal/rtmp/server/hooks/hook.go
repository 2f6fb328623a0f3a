package hooks

import (
	"context"
	"time"
)

// Hook handles events. Execute runs on a pool goroutine and may block up
// to the manager's timeout.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config tunes the Manager.
type Config struct {
	// Timeout bounds a single hook execution (default 30s).
	Timeout time.Duration `yaml:"timeout"`

	// Concurrency caps simultaneous executions (default 10).
	Concurrency int `yaml:"concurrency"`

	// StdioFormat enables a built-in stdio hook for every event: "json",
	// "env", or "" for off.
	StdioFormat string `yaml:"stdio_format"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		Concurrency: 10,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
}
