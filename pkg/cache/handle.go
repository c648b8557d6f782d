package cache

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/cache/status"
	"github.com/oneconcern/datacache/pkg/location"
)

// Handle on a cache key
type Handle struct {
	c   *Cache
	key string
}

// Key of this handle
func (h *Handle) Key() string {
	return h.key
}

// Modified tells if local changes have been detected since the last download or commit.
//
// Placeholders are considered modified until committed.
func (h *Handle) Modified() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.session == nil {
		return false
	}
	e, ok := h.c.session.entries[h.key]
	return ok && e.modified.Load()
}

// Path to the local file for this key, downloading the remote object on first access.
//
// For a placeholder, the path is returned even though the file does not exist yet.
func (h *Handle) Path(ctx context.Context) (string, error) {
	s, loc, e, err := h.c.lookup(h.key)
	if err != nil {
		return "", h.c.fail(ctx, s, OpPath, h.key, loc, err)
	}

	if e != nil {
		h.c.mu.Lock()
		state := e.state
		h.c.mu.Unlock()

		if state != stateEvicted && h.c.exists(e.path) {
			return e.path, nil
		}
		if state == statePlaceholder {
			return e.path, nil
		}
	}

	path, err := h.c.download(ctx, s, h.key, loc)
	if err != nil {
		return "", h.c.fail(ctx, s, OpPath, h.key, loc, err)
	}
	return path, nil
}

// Commit uploads the local file to the location registered for this key, or to the
// location set with the ToLocation option.
//
// Committing a key with no local file fails with status.ErrLocalFileNotFound.
func (h *Handle) Commit(ctx context.Context, opts ...CommitOption) error {
	s, loc, e, err := h.c.lookup(h.key)
	if err != nil {
		return h.c.fail(ctx, s, OpCommit, h.key, loc, err)
	}

	var cs commitSettings
	for _, apply := range opts {
		apply(&cs)
	}
	target := loc
	if cs.target != nil {
		resolved, err := location.Resolve(location.At(*cs.target))
		if err != nil {
			return h.c.fail(ctx, s, OpCommit, h.key, *cs.target, err)
		}
		target = resolved
	}

	if err := h.c.commit(ctx, s, h.key, e, target, cs.mimeType); err != nil {
		return h.c.fail(ctx, s, OpCommit, h.key, target, err)
	}
	return nil
}

// Delete removes the local file for this key, if any.
//
// The key remains registered: a later call to Path downloads the object again.
func (h *Handle) Delete(ctx context.Context) error {
	s, loc, e, err := h.c.lookup(h.key)
	if err != nil {
		return h.c.fail(ctx, s, OpDelete, h.key, loc, err)
	}
	if e == nil {
		return nil
	}
	if !s.area.Contains(e.path) {
		return h.c.fail(ctx, s, OpDelete, h.key, loc, status.ErrStagingUnavailable.WrapMessage("refusing to delete a file outside the staging area: "+e.path))
	}

	h.c.mu.Lock()
	w := e.detachWatch()
	e.state = stateEvicted
	h.c.mu.Unlock()

	if err := closeWatch(w); err != nil {
		h.c.l.Warn("closing watch", zap.String("key", h.key), zap.Error(err))
	}

	if err := h.c.fs.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return h.c.fail(ctx, s, OpDelete, h.key, loc, status.ErrStagingUnavailable.Wrap(err))
	}
	h.c.l.Debug("local file deleted", zap.String("key", h.key), zap.String("path", e.path))
	return nil
}
