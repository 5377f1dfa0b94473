package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	logger   *zap.Logger
	mu       sync.RWMutex
	current  Options
	onChange []func(Options)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loader{path: path, logger: logger}

	opts, err := Load(path)
	if err != nil {
		return nil, err
	}

	l.current = opts

	return l, nil
}

// Path returns the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Options returns the latest options.
func (l *Loader) Options() Options {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.current
}

// OnChange registers a callback invoked whenever the options reload.
func (l *Loader) OnChange(fn func(Options)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onChange = append(l.onChange, fn)
}

// Watch starts a goroutine that reloads the options when the file changes.
// Call the returned function to stop watching.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer w.Close()

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("keeping previous options",
							zap.String("path", l.path), zap.Error(err))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}

				l.logger.Warn("config watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the file.
func (l *Loader) Reload() (Options, error) {
	opts, err := Load(l.path)
	if err != nil {
		return Options{}, err
	}

	l.mu.Lock()
	l.current = opts
	callbacks := make([]func(Options), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.logger.Info("options reloaded", zap.String("path", l.path))

	for _, fn := range callbacks {
		fn(opts)
	}

	return opts, nil
}
