package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// debounce collapses the burst of events editors produce for one save.
const debounce = 200 * time.Millisecond

// Watcher reloads the config file whenever it changes on disk.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	log       logr.Logger
}

// NewWatcher creates a watcher for the config file at path. The parent
// directory is watched so that atomic renames are seen too.
func NewWatcher(path string, log logr.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsWatcher: fsw, path: absPath, log: log}, nil
}

// Watch returns a channel of successfully reloaded configs. Invalid files are
// logged and skipped. The channel closes when ctx is done.
func (w *Watcher) Watch(ctx context.Context) <-chan *Config {
	ch := make(chan *Config, 1)
	go w.dispatch(ctx, ch)
	return ch
}

func (w *Watcher) dispatch(ctx context.Context, ch chan *Config) {
	defer close(ch)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Error(err, "ignoring invalid config change", "path", w.path)
				continue
			}
			w.log.Info("Config reloaded", "path", w.path)
			select {
			case ch <- cfg:
			default:
				// Replace an unread config with the newer one.
				select {
				case <-ch:
				default:
				}
				ch <- cfg
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "config watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}
