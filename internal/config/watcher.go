package config

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current immutable Config snapshot, swapped atomically on
// reload. This is the process-wide guarded value spec.md §9 calls for
// ("global mutable config"): readers never see a torn or partially-applied
// config.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore wraps an initial Config.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Get returns the current Config snapshot.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Set atomically replaces the Config snapshot.
func (s *Store) Set(cfg *Config) {
	s.current.Store(cfg)
}

// Watcher reloads Config from disk on file change and feeds the new
// snapshot into a Store. Grounded on the teacher's skills.Manager watch
// loop: one fsnotify.Watcher, one event-draining goroutine, errors logged
// and non-fatal.
type Watcher struct {
	path    string
	store   *Store
	logger  *slog.Logger
	fw      *fsnotify.Watcher
	closeWg sync.WaitGroup
}

// NewWatcher builds a Watcher for path, feeding reloads into store.
func NewWatcher(path string, store *Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{path: path, store: store, logger: logger, fw: fw}, nil
}

// Start runs the watch loop until Close is called.
func (w *Watcher) Start() {
	w.closeWg.Add(1)
	go func() {
		defer w.closeWg.Done()
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Warn("config reload failed", "path", w.path, "error", err)
					continue
				}
				w.store.Set(cfg)
				w.logger.Info("config reloaded", "path", w.path)
			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watch error", "error", err)
			}
		}
	}()
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	w.closeWg.Wait()
	return err
}
