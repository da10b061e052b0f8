package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/repomirror/internal/logfields"
)

// reloadDebounce coalesces the burst of events editors emit per save.
const reloadDebounce = 2 * time.Second

// configWatcher reloads the configuration when its file changes on disk.
type configWatcher struct {
	configPath string
	onChange   func()
	watcher    *fsnotify.Watcher
	reloadCh   chan struct{}
	stopCh     chan struct{}
}

func newConfigWatcher(configPath string, onChange func()) (*configWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &configWatcher{
		configPath: absPath,
		onChange:   onChange,
		watcher:    watcher,
		reloadCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start watches the config file's directory. Watching the directory rather
// than the file survives editors that replace the file on save.
func (w *configWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	slog.Info("watching config file", logfields.Path(w.configPath))
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop shuts the watcher down.
func (w *configWatcher) Stop() {
	close(w.stopCh)
	if err := w.watcher.Close(); err != nil {
		slog.Error("close config watcher", logfields.Error(err))
	}
}

func (w *configWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(w.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				slog.Debug("config file changed", logfields.Path(event.Name))
				w.trigger()
			case event.Op&fsnotify.Remove != 0:
				slog.Warn("config file removed", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher", logfields.Error(err))
		}
	}
}

// trigger requests a debounced reload without blocking the event loop.
func (w *configWatcher) trigger() {
	select {
	case w.reloadCh <- struct{}{}:
	default:
	}
}

func (w *configWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.reloadCh:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			w.onChange()
		}
	}
}
