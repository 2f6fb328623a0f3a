package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	FormatJSON = "json"
	FormatEnv  = "env"
)

// StdioHook writes events as "RELAY_EVENT: {json}" lines or as blocks of
// RELAY_* variable assignments.
type StdioHook struct {
	id     string
	format string
	mu     sync.Mutex
	output io.Writer
}

// NewStdioHook writes to stderr so event lines stay apart from stdout.
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

func (h *StdioHook) SetOutput(w io.Writer) *StdioHook {
	h.mu.Lock()
	h.output = w
	h.mu.Unlock()
	return h
}

func (h *StdioHook) Type() string { return "stdio" }
func (h *StdioHook) ID() string   { return h.id }

func (h *StdioHook) Execute(_ context.Context, event Event) error {
	var text string
	switch h.format {
	case FormatJSON:
		b, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("stdio hook %s: marshal: %w", h.id, err)
		}
		text = "RELAY_EVENT: " + string(b) + "\n"
	case FormatEnv:
		text = strings.Join(envLines(event), "\n") + "\n\n"
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}

	// Pool goroutines write concurrently; keep lines whole.
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.output, text); err != nil {
		return fmt.Errorf("stdio hook %s: write: %w", h.id, err)
	}
	return nil
}

// envLines renders event as RELAY_* assignments, data keys sorted.
func envLines(event Event) []string {
	lines := []string{
		"RELAY_EVENT_TYPE=" + string(event.Type),
		fmt.Sprintf("RELAY_TIMESTAMP=%d", event.Timestamp),
	}
	if event.ConnID != "" {
		lines = append(lines, "RELAY_CONN_ID="+event.ConnID)
	}
	if event.Path != "" {
		lines = append(lines, "RELAY_PATH="+event.Path)
	}
	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("RELAY_%s=%v", strings.ToUpper(k), event.Data[k]))
	}
	return lines
}
