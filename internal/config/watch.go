package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events editors produce when
// saving a file.
const DefaultWatchDebounce = 250 * time.Millisecond

// ErrWatcherClosed indicates the fsnotify watcher closed its channels.
var ErrWatcherClosed = errors.New("config watcher closed")

// Watch calls onChange after the file at path has been written, created,
// renamed or removed, debounced by debounce. The parent directory is
// watched so editors that replace the file are handled. Watch blocks until
// ctx is cancelled.
func Watch(
	ctx context.Context,
	path string,
	debounce time.Duration,
	logger *slog.Logger,
	onChange func(),
) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	logger = logger.With(slog.String("component", "config.watch"), slog.String("path", path))
	logger.Debug("watching config file")

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if filepath.Base(ev.Name) != base || ev.Op&relevant == 0 {
				continue
			}
			logger.Debug("config change detected", slog.String("op", ev.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			logger.Warn("config watch error", slog.String("error", err.Error()))
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				timer.Reset(debounce)
			}

		case <-timer.C:
			onChange()
		}
	}
}
