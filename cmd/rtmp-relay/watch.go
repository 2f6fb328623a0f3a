package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/alxayo/go-rtmp-relay/internal/logger"
)

// watchLogLevel re-reads the config file whenever it changes and applies
// its log_level. Other settings need a restart. The containing directory is
// watched so editors that replace the file by rename are handled.
func watchLogLevel(ctx context.Context, path string, log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				reloadLogLevel(abs, log)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("Config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// reloadLogLevel applies the file's log_level if it is set and differs from
// the current level. It reports whether the level changed.
func reloadLogLevel(path string, log *slog.Logger) bool {
	fc, err := loadConfigFile(path)
	if err != nil {
		log.Warn("Config reload failed", "path", path, "error", err)
		return false
	}
	if fc.LogLevel == "" {
		return false
	}
	want, ok := logger.ParseLevel(fc.LogLevel)
	if !ok {
		log.Warn("Config reload: invalid log_level", "log_level", fc.LogLevel)
		return false
	}
	if want.String() == logger.Level() {
		return false
	}
	if err := logger.SetLevel(fc.LogLevel); err != nil {
		log.Warn("Config reload: set level", "error", err)
		return false
	}
	log.Info("Log level reloaded", "level", logger.Level())
	return true
}
