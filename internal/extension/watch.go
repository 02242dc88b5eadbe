package extension

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/shehryarbajwa/newtab-sections/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompConfig)

// Watch reloads the manifest at path whenever it is written or replaced and
// passes the new overrides to fn. It blocks until ctx is done. A manifest
// that fails to parse is logged and skipped.
func Watch(ctx context.Context, path string, fn func(Overrides)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			m, err := LoadManifest(path)
			if err != nil {
				watchLog.Warn("manifest_reload_failed", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			watchLog.Info("manifest_reloaded", slog.String("path", path))
			fn(m.Section)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			watchLog.Warn("manifest_watch_error", slog.String("error", err.Error()))
		}
	}
}
