package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the coarse cadence at which the watcher falls back to
// checking the config file's modification time, satisfying §4.4's ≈1 Hz
// requirement even on filesystems that don't deliver native notifications.
const pollInterval = time.Second

// Watcher produces a debounced stream of reload events from three sources:
// an fsnotify watch on the config file, a periodic mtime poll, and an
// explicit Trigger call (used for the hangup signal). Two events within
// one poll interval collapse to one.
type Watcher struct {
	path   string
	log    *slog.Logger
	events chan struct{}
	manual chan struct{}
	done   chan struct{}
}

// NewWatcher starts watching path. Callers must call Stop when done.
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	w := &Watcher{
		path:   path,
		log:    log,
		events: make(chan struct{}, 1),
		manual: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events returns the debounced reload-event stream.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Trigger injects an explicit reload event (hangup signal).
// Non-blocking: if an event is already pending it is not
// duplicated.
func (w *Watcher) Trigger() {
	select {
	case w.manual <- struct{}{}:
	default:
	}
}

// Stop terminates the watcher's background goroutine.
func (w *Watcher) Stop() { close(w.done) }

func (w *Watcher) run() {
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := fsw.Add(w.path); werr != nil {
			w.log.Warn("fsnotify watch failed, relying on mtime poll", "path", w.path, "error", werr)
		}
		defer func() { _ = fsw.Close() }()
	} else {
		w.log.Warn("fsnotify unavailable, relying on mtime poll", "error", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastMod := w.statModTime()
	pending := false

	emit := func() {
		if !pending {
			return
		}
		pending = false
		select {
		case w.events <- struct{}{}:
		default:
		}
	}

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if fsw != nil {
		fsEvents = fsw.Events
		fsErrors = fsw.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case <-w.manual:
			pending = true
		case _, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			pending = true
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.log.Warn("fsnotify error", "error", err)
		case <-ticker.C:
			if m := w.statModTime(); !m.IsZero() && !m.Equal(lastMod) {
				lastMod = m
				pending = true
			}
			emit()
		}
	}
}

func (w *Watcher) statModTime() time.Time {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
