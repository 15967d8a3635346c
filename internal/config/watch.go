package config

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/agentmesh/internal/logging"
	"github.com/opencode-ai/agentmesh/pkg/types"
)

// Watcher re-loads the configuration when a config file in the watched
// directory changes and hands the result to a callback. Only settings
// that are safe to change at runtime (currently the log level) should
// be applied by the callback; everything else requires a restart.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onReload  func(*types.Config)
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.Mutex
}

// NewWatcher watches the project directory for agentmesh config
// changes. Returns nil without error when the directory cannot be
// watched; hot reload is an optional convenience.
func NewWatcher(directory string, onReload func(*types.Config)) (*Watcher, error) {
	if directory == "" {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(directory); err != nil {
		w.Close()
		logging.Debug().Str("directory", directory).Err(err).Msg("config watch disabled")
		return nil, nil
	}

	return &Watcher{
		watcher:   w,
		directory: directory,
		onReload:  onReload,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching for config changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	log := logging.Component("config")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasPrefix(name, "agentmesh.json") {
				continue
			}
			cfg, err := Load(w.directory)
			if err != nil {
				log.Warn().Err(err).Msg("config reload failed")
				continue
			}
			log.Info().Str("file", name).Msg("config reloaded")
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.watcher.Close()
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
	w.started = false
}
