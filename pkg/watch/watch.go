// Package watch notifies about changes made to local files.
//
// Notifications are best-effort: events may be missed or duplicated, files
// replaced by a rename are no longer observed, and a file must exist for a
// watch to be installed on it.
package watch

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Handle on an installed watch. Closing it stops notifications.
type Handle interface {
	Close() error
}

// Watcher installs watches on individual files
type Watcher interface {
	Watch(path string, onChange func()) (Handle, error)
}

type fsWatcher struct {
	l *zap.Logger
}

// New watcher backed by fsnotify, with one independent notifier per watched file
func New(l *zap.Logger) Watcher {
	if l == nil {
		l = zap.NewNop()
	}
	return &fsWatcher{l: l}
}

func (w *fsWatcher) Watch(path string, onChange func()) (Handle, error) {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err = notifier.Add(path); err != nil {
		_ = notifier.Close()
		return nil, fmt.Errorf("watching %q: %w", path, err)
	}

	h := &fileHandle{
		notifier: notifier,
		done:     make(chan struct{}),
	}
	go h.run(w.l.With(zap.String("path", path)), onChange)
	return h, nil
}

type fileHandle struct {
	notifier *fsnotify.Watcher
	done     chan struct{}
	once     sync.Once
	err      error
}

func (h *fileHandle) run(l *zap.Logger, onChange func()) {
	defer close(h.done)
	for {
		select {
		case event, ok := <-h.notifier.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.Debug("file changed", zap.Stringer("op", event.Op))
				onChange()
			}
		case err, ok := <-h.notifier.Errors:
			if !ok {
				return
			}
			l.Warn("file watcher error", zap.Error(err))
		}
	}
}

// Close the watch and wait for the notifying goroutine to exit
func (h *fileHandle) Close() error {
	h.once.Do(func() {
		h.err = h.notifier.Close()
		<-h.done
	})
	return h.err
}

type nopWatcher struct{}

type nopHandle struct{}

func (nopHandle) Close() error { return nil }

// Nop is a watcher that never notifies, e.g. for in-memory file systems
func Nop() Watcher {
	return nopWatcher{}
}

func (nopWatcher) Watch(string, func()) (Handle, error) {
	return nopHandle{}, nil
}
