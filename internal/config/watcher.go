package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"slowhand/internal/logger"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher re-loads the config file when it changes on disk and hands the
// result to onChange. A file that fails to load keeps the previous config;
// the error is logged and the watcher keeps going.
type Watcher struct {
	path     string
	onChange func(*Config)
}

func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Start blocks until ctx is cancelled. Watching the directory rather than
// the file survives editors that replace-on-save.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(w.path)
	logger.Infof("config: watching %s for changes", target)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config: watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Warnf("config: reload rejected, keeping previous config: %v", err)
		return
	}
	logger.Infof("config: reloaded, %d enabled pairs", len(cfg.Trading.EnabledSymbols()))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
