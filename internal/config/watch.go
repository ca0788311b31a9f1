package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it is written or replaced and hands each
// valid result to apply. Invalid reloads are logged and skipped, so the
// last good configuration stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched because editors and config-map mounts
// replace files instead of writing them in place.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Info("config change detected", "file", event.Name, "op", event.Op.String())

			cfg, err := Load(target)
			if err != nil {
				logger.Warn("ignoring invalid config reload", "file", target, "error", err)
				continue
			}
			for _, w := range Warnings(cfg) {
				logger.Warn("config warning", "warning", w)
			}
			apply(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
