package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog whenever the file at path is written or
// replaced. It blocks until ctx is done. The parent directory is watched so
// that editors which save through rename are picked up as well.
func (c *Catalog) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch catalog dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				logger.Warn("catalog_reload_failed", "path", abs, "error", err)
				continue
			}
			if err := c.Reload(data); err != nil {
				logger.Warn("catalog_reload_failed", "path", abs, "error", err)
				continue
			}
			logger.Info("catalog_reloaded", "path", abs, "books", len(c.Titles()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog_watch_error", "error", err)
		}
	}
}
