package cache

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/watch"
)

type entryState uint8

const (
	// registered for a file that the caller has yet to create
	statePlaceholder entryState = iota
	// backing file created, by a download or by the caller
	stateMaterialized
	// backing file removed by a local delete
	stateEvicted
)

func (s entryState) String() string {
	switch s {
	case statePlaceholder:
		return "placeholder"
	case stateMaterialized:
		return "materialized"
	case stateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// entry tracks the local file staged for a cache key.
//
// The modified flag is set by file notifications and may be read and cleared concurrently.
// Other fields are guarded by the cache lock.
type entry struct {
	path     string
	mimeType string
	state    entryState
	modified atomic.Bool
	watch    watch.Handle
}

func newPlaceholder(path, mimeType string) *entry {
	e := &entry{
		path:     path,
		mimeType: mimeType,
		state:    statePlaceholder,
	}
	// picked up by CommitChanged even if no change is ever notified
	e.modified.Store(true)
	return e
}

func newDownloaded(path, mimeType string) *entry {
	return &entry{
		path:     path,
		mimeType: mimeType,
		state:    stateMaterialized,
	}
}

func (e *entry) markModified() {
	e.modified.Store(true)
}

// attachWatch installs a watch on the backing file, which must exist.
//
// Must be called with the cache lock held. Failures are logged only: watches are best-effort.
func (e *entry) attachWatch(w watch.Watcher, l *zap.Logger) {
	if e.watch != nil {
		return
	}
	h, err := w.Watch(e.path, e.markModified)
	if err != nil {
		l.Warn("local modifications will not be detected", zap.String("path", e.path), zap.Error(err))
		return
	}
	e.watch = h
}

// detachWatch removes the watch handle from the entry and returns it, to be closed outside the lock.
func (e *entry) detachWatch() watch.Handle {
	h := e.watch
	e.watch = nil
	return h
}

func closeWatch(h watch.Handle) error {
	if h == nil {
		return nil
	}
	return h.Close()
}
