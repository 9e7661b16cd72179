package main

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// watchFile calls onChange every time the file at path is written or
// replaced. The parent directory is watched, so that editors that save by
// renaming a temporary file are handled too.
func watchFile(ctx context.Context, path string, logger kitlog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	name := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != name {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				level.Debug(logger).Log("msg", "config file changed", "op", event.Op)
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			level.Warn(logger).Log("msg", "config watcher error", "err", err)
		}
	}
}
