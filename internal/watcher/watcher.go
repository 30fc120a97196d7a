// Package watcher reloads the configuration file when it changes on disk.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked after the watched file settles following a change.
type ReloadFunc func(ctx context.Context) error

// Service watches a single file and calls a ReloadFunc once per burst of
// writes. The parent directory is watched rather than the file itself so
// editors that save by renaming a temp file over the original are seen.
type Service struct {
	path         string
	reload       ReloadFunc
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration
}

// NewService creates a watcher for path.
func NewService(path string, reload ReloadFunc, logger *slog.Logger) *Service {
	return &Service{
		path:         filepath.Clean(path),
		reload:       reload,
		logger:       logger.With("component", "config-watcher"),
		debounce:     500 * time.Millisecond,
		pollInterval: 30 * time.Second,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// SetPollInterval overrides the fallback poll interval (for testing).
func (s *Service) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// Start blocks until ctx is canceled. If fsnotify is unavailable it falls
// back to polling the file's modification time.
func (s *Service) Start(ctx context.Context) {
	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	var pollCh <-chan time.Time

	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(filepath.Dir(s.path))
		if err != nil {
			w.Close() //nolint:errcheck
		}
	}
	if err != nil {
		s.logger.Warn("fsnotify unavailable, polling config file", "path", s.path, "error", err)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		pollCh = ticker.C
	} else {
		defer w.Close() //nolint:errcheck
		eventCh = w.Events
		errCh = w.Errors
	}

	lastMod := s.modTime()
	s.logger.Info("config watcher starting", "path", s.path)

	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	pending := false

	schedule := func() {
		if !debounceTimer.Stop() {
			select {
			case <-debounceTimer.C:
			default:
			}
		}
		debounceTimer.Reset(s.debounce)
		pending = true
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("config watcher stopping")
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				schedule()
			}

		case err, ok := <-errCh:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-pollCh:
			if mod := s.modTime(); !mod.Equal(lastMod) {
				lastMod = mod
				schedule()
			}

		case <-debounceTimer.C:
			if !pending {
				continue
			}
			pending = false
			if _, err := os.Stat(s.path); err != nil {
				// Mid-rename or deleted; a later Create reschedules.
				s.logger.Debug("config file not readable, skipping reload", "error", err)
				continue
			}
			s.logger.Info("config file changed, reloading", "path", s.path)
			if err := s.reload(ctx); err != nil {
				s.logger.Error("config reload failed", "error", err)
			}
		}
	}
}

func (s *Service) modTime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
