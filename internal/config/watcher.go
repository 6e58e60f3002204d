package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadCallback receives a freshly loaded and validated configuration.
// Errors are logged; they do not undo the reload.
type ReloadCallback func(*Config) error

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
// The parent directory is watched so editors that save via rename are seen,
// and bursts of events collapse into one reload after the debounce delay.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	logger    zerolog.Logger
	path      string
	callbacks []ReloadCallback
	debounce  time.Duration
	mu        sync.Mutex
	closed    bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long the watcher waits for events to settle. Default 100ms.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
		logger:    zerolog.Nop(),
		path:      absPath,
		debounce:  defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// OnReload registers a callback. Callbacks run in registration order.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Watch processes file events until ctx is canceled or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context) error {
	target := filepath.Base(w.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			// Chmod events come from indexers and antivirus, not edits
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

// reload loads, validates and publishes the config. An invalid file is
// rejected and the previous config stays live.
func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := LoadAndValidate(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("config reload rejected")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("config file reloaded")

	w.mu.Lock()
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			w.logger.Error().Err(err).Msg("config reload callback error")
		}
	}
}

// Close stops watching and releases resources.
// Returns ErrWatcherClosed if already closed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	w.closed = true
	close(w.done)
	return w.fsWatcher.Close()
}
