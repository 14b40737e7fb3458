package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"fitcore/internal/infrastructure"
)

// reloader is the part of the license service the watcher drives
type reloader interface {
	Reload(ctx context.Context) error
}

// licenseWatcher reloads the license after its file changed. The parent
// directory is watched so editors and atomic renames are seen too. Bursts
// of events collapse into one reload after the debounce interval.
type licenseWatcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration
	target   reloader
	metrics  *infrastructure.DaemonMetrics
	logger   *slog.Logger
}

func newLicenseWatcher(path string, debounce time.Duration, target reloader, metrics *infrastructure.DaemonMetrics, logger *slog.Logger) (*licenseWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &licenseWatcher{
		fs:       w,
		path:     filepath.Clean(path),
		debounce: debounce,
		target:   target,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "license_watcher")),
	}, nil
}

// Run handles events until ctx is done.
func (w *licenseWatcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "watching license file",
		slog.String("path", w.path),
		slog.Duration("debounce", w.debounce),
	)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op == fsnotify.Chmod {
				continue
			}
			w.metrics.RecordWatcherEvent(ctx, ev.Op.String())
			w.logger.DebugContext(ctx, "license file event", slog.String("op", ev.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *licenseWatcher) reload(ctx context.Context) {
	err := w.target.Reload(ctx)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		w.logger.WarnContext(ctx, "license file removed; keeping the license in service")
	default:
		w.logger.WarnContext(ctx, "license reload failed", slog.String("error", err.Error()))
	}
}

// Close stops watching. It is safe to call more than once.
func (w *licenseWatcher) Close() error {
	return w.fs.Close()
}
