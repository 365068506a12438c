package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/user/bluexfer/logger"
)

const watchDebounce = 100 * time.Millisecond

// payloadWatcher calls onChange, debounced, whenever the payload file is
// written or replaced.
type payloadWatcher struct {
	path     string
	onChange func()

	mu       sync.Mutex
	debounce *time.Timer
}

func newPayloadWatcher(path string, onChange func()) *payloadWatcher {
	return &payloadWatcher{path: filepath.Clean(path), onChange: onChange}
}

// Run watches the file's directory, so editors that save by rename are
// still seen. It returns when ctx is done.
func (w *payloadWatcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch", "failed to create watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		logger.Warn("watch", "failed to watch %s: %v", dir, err)
		return
	}
	logger.Info("watch", "👀 watching %s", w.path)

	for {
		select {
		case <-ctx.Done():
			w.stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watch", "error: %v", err)
		}
	}
}

func (w *payloadWatcher) schedule(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.onChange)
}

func (w *payloadWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}
