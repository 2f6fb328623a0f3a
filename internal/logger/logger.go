// Package logger owns the process-wide structured logger. Output is JSON via
// log/slog; the level can be changed at runtime (flag, env, config reload).
package logger

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const envLogLevel = "RELAY_LOG_LEVEL"

var (
	level  = &atomicLevel{v: int64(slog.LevelInfo)}
	mu     sync.RWMutex
	global *slog.Logger
	once   sync.Once

	// -log.level may be passed before flag.Parse ran; detectLevel also scans
	// os.Args for it.
	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

type atomicLevel struct{ v int64 }

func (a *atomicLevel) Level() slog.Level { return slog.Level(atomic.LoadInt64(&a.v)) }
func (a *atomicLevel) set(l slog.Level)  { atomic.StoreInt64(&a.v, int64(l)) }

// Init builds the global logger on first use. Later calls are no-ops.
func Init() {
	once.Do(func() {
		level.set(detectLevel())
		mu.Lock()
		global = newJSON(os.Stdout)
		mu.Unlock()
	})
}

func newJSON(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// detectLevel resolves the starting level: -log.level, then RELAY_LOG_LEVEL,
// then info.
func detectLevel() slog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if v, ok := strings.CutPrefix(arg, "-log.level="); ok {
				*flagLevel = v
			}
		}
	}
	if lvl, ok := ParseLevel(*flagLevel); ok && *flagLevel != "" {
		return lvl
	}
	if lvl, ok := ParseLevel(os.Getenv(envLogLevel)); ok {
		return lvl
	}
	return slog.LevelInfo
}

// ParseLevel converts a level name into a slog.Level. The empty string maps
// to info.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "err":
		return slog.LevelError, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(name string) error {
	Init()
	lvl, ok := ParseLevel(name)
	if !ok {
		return errors.New("invalid log level: " + name)
	}
	level.set(lvl)
	return nil
}

// Level returns the current level name.
func Level() string {
	Init()
	return level.Level().String()
}

// UseWriter redirects output, keeping the current level. Intended for tests.
func UseWriter(w io.Writer) {
	Init()
	mu.Lock()
	global = newJSON(w)
	mu.Unlock()
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// WithConn attaches connection identity fields.
func WithConn(l *slog.Logger, connID, peerAddr string) *slog.Logger {
	return l.With("conn_id", connID, "peer_addr", peerAddr)
}

// WithPath attaches the relay path a connection is publishing or playing.
func WithPath(l *slog.Logger, path string) *slog.Logger {
	return l.With("path", path)
}

// WithMessage attaches the header fields of an assembled message.
func WithMessage(l *slog.Logger, csid uint32, typeID uint8, length uint32) *slog.Logger {
	return l.With("csid", csid, "type_id", typeID, "msg_len", length)
}
