package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// ShellHook runs a command per event with the event in RELAY_* environment
// variables and, optionally, as JSON on stdin.
type ShellHook struct {
	id       string
	command  string
	args     []string
	passJSON bool
}

func NewShellHook(id, command string, args ...string) *ShellHook {
	return &ShellHook{id: id, command: command, args: args}
}

func (h *ShellHook) SetPassJSON(v bool) *ShellHook {
	h.passJSON = v
	return h
}

func (h *ShellHook) Type() string { return "shell" }
func (h *ShellHook) ID() string   { return h.id }

// Execute runs the command. The manager's timeout arrives through ctx.
func (h *ShellHook) Execute(ctx context.Context, event Event) error {
	cmd := exec.CommandContext(ctx, h.command, h.args...)
	cmd.Env = append(os.Environ(), envLines(event)...)
	if h.passJSON {
		b, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("shell hook %s: marshal: %w", h.id, err)
		}
		cmd.Stdin = bytes.NewReader(b)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("shell hook %s: %w (output %q)", h.id, err, truncate(out, 256))
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
