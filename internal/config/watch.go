package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of fsnotify events an editor save
// produces into one reload.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// new config to the callback. Invalid files are reported to stderr and
// skipped; the last good config stays in effect.
type Watcher struct {
	path    string
	onLoad  func(*Config)
	watcher *fsnotify.Watcher
	done    chan struct{}

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// Watch starts watching path. The callback runs on the watcher goroutine
// after every successful reload.
func Watch(path string, onLoad func(*Config)) (*Watcher, error) {
	if path == "" {
		path = DefaultPath
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: editors and Save replace the
	// file by rename, which drops a direct file watch.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:    path,
		onLoad:  onLoad,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config reload skipped: %v\n", err)
		return
	}
	w.onLoad(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	return w.watcher.Close()
}
