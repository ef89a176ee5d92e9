// Package watch implements the single-tenant file-system watcher of
// spec.md §4.9: a debounced watch on the Flagfile's parent directory that
// reloads the root namespace whenever a matching file changes. Grounded on
// the teacher's go.mod listing of gopkg.in/fsnotify/fsnotify.v1 (replaced to
// the canonical fsnotify/fsnotify import path) — that dependency existed in
// the teacher's module graph but backed no kept file, so this component
// gives it a home. The "watch a directory for Flagfile*, reparse on
// change" shape itself is carried over from original_source's
// server/watch.rs, which this package generalises into a standing watcher
// rather than a one-shot reload helper.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// debounce is the fixed coalescing window of spec.md §4.9.
const debounce = 500 * time.Millisecond

// ReloadFunc is invoked with the newly read file contents whenever a
// matching file changes. A non-nil error is logged and the previous state
// is kept, per spec.md §4.9 "on failure, log and keep the previous state".
type ReloadFunc func(raw []byte) error

// Watcher watches path's parent directory and calls Reload whenever a file
// named "Flagfile*" in that directory is created, written, or renamed into
// place.
type Watcher struct {
	path   string
	dir    string
	prefix string
	reload ReloadFunc
	log    *zap.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// New constructs a Watcher for path (e.g. "./data/Flagfile"); it does not
// start watching until Open is called.
func New(path string, reload ReloadFunc, log *zap.Logger) *Watcher {
	dir := filepath.Dir(path)
	return &Watcher{
		path:   path,
		dir:    dir,
		prefix: "Flagfile",
		reload: reload,
		log:    log.With(zap.String("service", "watch")),
		done:   make(chan struct{}),
	}
}

// Open starts the background watch loop. It performs one synchronous
// reload of path before returning, so the caller's root namespace is
// populated even if no file-system event ever fires.
func (w *Watcher) Open() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "opening fsnotify watcher")
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return errors.Wrapf(err, "watching directory %q", w.dir)
	}
	w.fsw = fsw

	w.reloadNow()

	go w.run()
	return nil
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) matches(name string) bool {
	return strings.HasPrefix(filepath.Base(name), w.prefix)
}

// run debounces bursts of fsnotify events (editors often emit several
// events per save) into a single reload after the file system settles.
func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerC = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-timerC:
			w.reloadNow()
			timerC = nil
		}
	}
}

func (w *Watcher) reloadNow() {
	raw, err := readFile(w.path)
	if err != nil {
		w.log.Warn("failed to read flagfile, keeping previous state", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.reload(raw); err != nil {
		w.log.Warn("failed to reload flagfile, keeping previous state", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.log.Info("reloaded flagfile", zap.String("path", w.path))
}
