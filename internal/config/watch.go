package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/haasonsaas/mozi/internal/debounce"
	"github.com/haasonsaas/mozi/internal/retry"
)

// WatchDebounce is the minimum debounce window between a file-change
// event and the reload it triggers.
const WatchDebounce = 150 * time.Millisecond

// WatchRearmDelay is the minimum pause before re-arming the watcher after a
// rename event, giving an editor's replace-via-rename save time to settle
// before the new inode is watched.
const WatchRearmDelay = 150 * time.Millisecond

// Watcher reloads path on every on-disk change, debounced, and hands the
// result to onReload. The caller owns what it does with a reload (swap a
// live pointer, log a diff, etc).
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	debouncer *debounce.Debouncer[struct{}]
	log       *slog.Logger
	stopCh    chan struct{}
}

// NewWatcher starts watching path's containing directory (so renamed-in
// replacement files are picked up) and debounces reloads via onReload.
func NewWatcher(path string, onReload func(LoadResult)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	log := slog.Default().With("component", "config.watch", "path", path)

	w := &Watcher{
		path:      path,
		fsWatcher: fsWatcher,
		log:       log,
		stopCh:    make(chan struct{}),
	}

	w.debouncer = debounce.New[struct{}](WatchDebounce, func([]*struct{}) {
		onReload(loadSettled(path))
	})

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !eventTargetsPath(event, w.path) {
				continue
			}
			if event.Op&fsnotify.Rename != 0 {
				go w.rearmAfterRename()
			}
			w.debouncer.Enqueue(&struct{}{})
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// rearmAfterRename re-adds the watch on path's directory after a short
// delay, covering editors that save by writing a temp file and renaming it
// over the original (which can invalidate the existing watch descriptor).
func (w *Watcher) rearmAfterRename() {
	time.Sleep(WatchRearmDelay)
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		w.log.Warn("re-arm watch failed", "error", err)
	}
}

// loadSettled loads path, retrying briefly when the parse fails. A
// non-atomic save can leave the file half-written for a few milliseconds
// after the change event; a parse error that persists across the retries
// is a genuinely invalid config and is reported as-is.
func loadSettled(path string) LoadResult {
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Factor: 2.0}
	last, _ := retry.DoWithValue(context.Background(), cfg, func() (LoadResult, error) {
		res := Load(path)
		if !res.Success {
			return res, errors.New("config parse failed")
		}
		return res, nil
	})
	return last
}

// Stop halts the watcher and releases its OS resources.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.debouncer.Stop()
	_ = w.fsWatcher.Close()
}

func eventTargetsPath(event fsnotify.Event, path string) bool {
	return filepath.Clean(event.Name) == filepath.Clean(path)
}
