package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"releasedash/src/logger"
)

// Watch monitors path for changes and calls onChange with the newly
// loaded Config each time the file is rewritten. It runs until ctx is
// cancelled. This is how the tracked branch/builder list is reloaded
// without restarting the dashboard.
//
// If a reload fails (invalid YAML, missing fields), the error is logged
// and the previous config stays active; Watch does not call onChange.
func Watch(ctx context.Context, path string, log logger.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log.Info("config: watching %s for changes", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which arrives as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Error("config: reload failed, keeping previous config: %v", err)
				continue
			}

			log.Info("config: reloaded %s", path)
			onChange(cfg)

			// An atomic save replaces the inode; re-add the path so the
			// next save is still observed.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config: watcher error: %v", err)
		}
	}
}
