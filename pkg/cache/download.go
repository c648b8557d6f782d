package cache

import (
	"context"
	"fmt"
	"io"
	"os"

	units "github.com/docker/go-units"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/cache/status"
	"github.com/oneconcern/datacache/pkg/errors"
	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/watch"
)

// upstreamReader tags errors from a remote stream, to tell them apart from local write errors
type upstreamReader struct {
	io.Reader
}

func (r upstreamReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err != nil && err != io.EOF {
		err = status.ErrUpstream.Wrap(err)
	}
	return n, err
}

// download the object at loc into a new staged file and registers it as the entry for key
func (c *Cache) download(ctx context.Context, s *session, key string, loc location.Location) (string, error) {
	attrs, err := c.store.Head(ctx, loc)
	if err != nil {
		return "", status.ErrUpstream.Wrap(fmt.Errorf("head: %w", err))
	}

	if !s.area.Reserve(attrs.Size) {
		available := s.area.Available()
		return "", status.ErrQuotaExceeded.WrapMessage(fmt.Sprintf("required %d bytes (%s), available %d bytes (%s)",
			attrs.Size, units.BytesSize(float64(attrs.Size)),
			available, units.BytesSize(float64(available)),
		))
	}

	body, err := c.store.Get(ctx, loc)
	if err != nil {
		return "", status.ErrUpstream.Wrap(fmt.Errorf("get: %w", err))
	}
	defer func() {
		_ = body.Close()
	}()

	path := s.area.NewPath(loc.Ext())
	written, err := c.writeStaged(path, body)
	if err != nil {
		_ = c.fs.Remove(path)
		return "", err
	}

	s.area.Consume(written)
	c.metrics.downloads.Inc()
	c.metrics.downloadedBytes.Add(float64(written))
	c.metrics.available.Set(float64(s.area.Available()))

	e := newDownloaded(path, attrs.ContentType)

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return "", status.ErrNotInitialized.WrapMessage("session torn down during download")
	}
	var previous watch.Handle
	if p, ok := s.entries[key]; ok {
		previous = p.detachWatch()
	}
	e.attachWatch(c.watcher, c.l)
	s.entries[key] = e
	c.mu.Unlock()

	if err := closeWatch(previous); err != nil {
		c.l.Warn("closing watch of replaced entry", zap.String("key", key), zap.Error(err))
	}

	c.l.Info("object downloaded",
		zap.String("key", key),
		zap.Stringer("location", loc),
		zap.String("path", path),
		zap.Int64("bytes", written),
		zap.String("content-type", attrs.ContentType),
	)
	return path, nil
}

func (c *Cache) writeStaged(path string, body io.Reader) (int64, error) {
	f, err := c.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return 0, status.ErrStagingUnavailable.Wrap(err)
	}

	written, err := io.Copy(f, upstreamReader{Reader: body})
	if err != nil {
		_ = f.Close()
		if errors.Is(err, status.ErrUpstream) {
			return 0, err
		}
		return 0, status.ErrStagingUnavailable.Wrap(err)
	}
	if err = f.Close(); err != nil {
		return 0, status.ErrStagingUnavailable.Wrap(err)
	}
	return written, nil
}
