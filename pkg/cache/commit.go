package cache

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oneconcern/datacache/pkg/cache/status"
	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/storage"
)

// localReader tags errors from a staged file, to tell them apart from remote write errors
type localReader struct {
	io.Reader
	read int64
	err  error
}

func (r *localReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.read += int64(n)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

// commit uploads the staged file of entry e to target
func (c *Cache) commit(ctx context.Context, s *session, key string, e *entry, target location.Location, mimeType string) error {
	if e == nil || !c.exists(e.path) {
		return status.ErrLocalFileNotFound.WrapMessage("nothing staged locally for this key")
	}
	if !s.area.Contains(e.path) {
		return status.ErrStagingUnavailable.WrapMessage("staged file lies outside the staging area: " + e.path)
	}
	if mimeType == "" {
		mimeType = e.mimeType
	}

	f, err := c.fs.Open(e.path)
	if err != nil {
		return localError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	// changes notified during the upload are kept for the next commit
	wasModified := e.modified.Swap(false)

	rdr := &localReader{Reader: f}
	err = c.store.Put(ctx, target, rdr, storage.PutOptions{
		ContentType:  mimeType,
		StorageClass: c.storageClass,
	})
	if err == nil && rdr.err != nil {
		err = rdr.err
	}
	if err != nil {
		if wasModified {
			e.markModified()
		}
		if rdr.err != nil {
			return localError(rdr.err)
		}
		return status.ErrUpstream.Wrap(fmt.Errorf("put: %w", err))
	}

	c.mu.Lock()
	if c.session == s {
		s.addCommitted(target)
		// the file of a placeholder exists now
		e.state = stateMaterialized
		e.attachWatch(c.watcher, c.l)
	}
	c.mu.Unlock()

	c.metrics.commits.Inc()
	c.metrics.committedBytes.Add(float64(rdr.read))
	c.l.Info("object committed",
		zap.String("key", key),
		zap.Stringer("location", target),
		zap.String("path", e.path),
		zap.Int64("bytes", rdr.read),
		zap.String("content-type", mimeType),
	)
	return nil
}

func localError(err error) error {
	if os.IsNotExist(err) {
		return status.ErrLocalFileNotFound.Wrap(err)
	}
	return status.ErrStagingUnavailable.Wrap(err)
}

// CommitChanged commits every entry with local modifications to its registered location.
//
// Commits run concurrently, in no particular order. The first failure tears down
// the session and is returned: there is no report of which commits succeeded.
func (c *Cache) CommitChanged(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return c.fail(ctx, nil, OpCommitChanged, "", location.Location{}, err)
	}

	type pending struct {
		key   string
		loc   location.Location
		entry *entry
	}
	var changed []pending

	c.mu.Lock()
	for _, key := range sortedKeys(s.entries) {
		e := s.entries[key]
		if e.modified.Load() {
			changed = append(changed, pending{key: key, loc: s.registry[key], entry: e})
		}
	}
	c.mu.Unlock()

	c.l.Debug("committing changed entries", zap.Int("count", len(changed)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, toPin := range changed {
		p := toPin
		g.Go(func() error {
			if err := c.commit(gctx, s, p.key, p.entry, p.loc, ""); err != nil {
				return &Error{Op: OpCommitChanged, Key: p.key, Location: p.loc, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.fail(ctx, s, OpCommitChanged, "", location.Location{}, err)
	}
	return nil
}
