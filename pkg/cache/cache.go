// Copyright © 2018 One Concern

package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/cache/status"
	"github.com/oneconcern/datacache/pkg/errors"
	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/staging"
	"github.com/oneconcern/datacache/pkg/storage"
	"github.com/oneconcern/datacache/pkg/watch"
)

// Cache is a write-back local cache of remote objects.
//
// Operations on distinct keys may run concurrently. Operations on the same key
// are not serialized: concurrent Path calls on a key not yet downloaded may
// download it twice.
type Cache struct {
	settings
	store   storage.Store
	metrics *metrics

	mu      sync.Mutex
	session *session
}

// New cache on top of a remote store. The cache must be initialized before use.
func New(store storage.Store, opts ...Option) *Cache {
	s := defaultSettings()
	for _, apply := range opts {
		apply(&s)
	}
	if s.watcher == nil {
		s.watcher = watch.New(s.l)
	}
	return &Cache{
		settings: s,
		store:    store,
		metrics:  newMetrics(s.registerer),
	}
}

// Init starts a new session with a key map.
//
// Any active session is torn down first (without rollback): the new registry
// replaces the previous one, it is never merged with it.
func (c *Cache) Init(ctx context.Context, refs map[string]location.Ref) error {
	if err := c.Destroy(ctx); err != nil {
		c.l.Warn("cleaning up previous session", zap.Error(err))
	}

	registry, key, err := resolveAll(refs)
	if err != nil {
		return c.fail(ctx, nil, OpInit, key, location.Location{}, err)
	}

	opts := []staging.Option{staging.WithMaxBytes(c.maxStagingBytes)}
	if c.space != nil {
		opts = append(opts, staging.WithSpaceFunc(c.space))
	}
	area, err := staging.Open(c.fs, c.tempRoot, opts...)
	if err != nil {
		return c.fail(ctx, nil, OpInit, "", location.Location{}, err)
	}

	s := newSession(area, registry)
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.metrics.available.Set(float64(area.Available()))
	c.l.Info("cache initialized",
		zap.String("staging", area.Root()),
		zap.Int64("available", area.Available()),
		zap.Int("keys", len(registry)),
	)
	return nil
}

// Exists tells if a key is registered in the current session.
//
// It does not tell whether the object has been downloaded.
func (c *Cache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false
	}
	_, ok := c.session.registry[key]
	return ok
}

// Keys registered in the current session, sorted
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.keys()
}

// Location registered for a key
func (c *Cache) Location(key string) (location.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return location.Location{}, false
	}
	loc, ok := c.session.registry[key]
	return loc, ok
}

// Available bytes left in the staging budget, or 0 when not initialized
func (c *Cache) Available() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.area.Available()
}

// StagingDir is the root of the current staging area, or "" when not initialized
func (c *Cache) StagingDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.area.Root()
}

// Committed locations, in the order of their first commit during this session
func (c *Cache) Committed() []location.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return append([]location.Location(nil), c.session.committed...)
}

// Handle on a key. The key is checked when the handle is used.
func (c *Cache) Handle(key string) *Handle {
	return &Handle{c: c, key: key}
}

// RegisterFutureFile registers a key for a file to be created locally and committed later.
//
// The handle's Path is a location in the staging area where the caller may create the file.
// An empty mimeType is inferred from the extension of the remote key.
func (c *Cache) RegisterFutureFile(ctx context.Context, key string, ref location.Ref, mimeType string) (*Handle, error) {
	s, err := c.current()
	if err != nil {
		return nil, c.fail(ctx, nil, OpRegister, key, location.Location{}, err)
	}

	loc, err := location.Resolve(ref)
	if err != nil {
		return nil, c.fail(ctx, s, OpRegister, key, location.Location{}, err)
	}
	if mimeType == "" {
		mimeType = storage.ContentTypeFor(loc)
	}
	e := newPlaceholder(s.area.NewPath(loc.Ext()), mimeType)

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return nil, c.fail(ctx, nil, OpRegister, key, loc, status.ErrNotInitialized)
	}
	var previous watch.Handle
	if p, ok := s.entries[key]; ok {
		previous = p.detachWatch()
	}
	s.registry[key] = loc
	s.entries[key] = e
	c.mu.Unlock()

	if err := closeWatch(previous); err != nil {
		c.l.Warn("closing watch of replaced entry", zap.String("key", key), zap.Error(err))
	}
	c.l.Debug("placeholder registered", zap.String("key", key), zap.Stringer("location", loc), zap.String("path", e.path))
	return c.Handle(key), nil
}

func (c *Cache) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, status.ErrNotInitialized
	}
	return c.session, nil
}

// lookup the session, location and entry (possibly nil) of a key
func (c *Cache) lookup(key string) (*session, location.Location, *entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, location.Location{}, nil, status.ErrNotInitialized
	}
	loc, ok := c.session.registry[key]
	if !ok {
		return c.session, location.Location{}, nil, status.ErrUnknownKey
	}
	return c.session, loc, c.session.entries[key], nil
}

// fail tears down the session s and returns err, qualified with the failed operation
func (c *Cache) fail(ctx context.Context, s *session, op, key string, loc location.Location, err error) error {
	var cerr *Error
	if !errors.As(err, &cerr) {
		cerr = &Error{Op: op, Key: key, Location: loc, Err: err}
	}
	c.metrics.failures.WithLabelValues(op).Inc()
	c.l.Error("cache operation failed, tearing down",
		zap.String("op", cerr.Op),
		zap.String("key", cerr.Key),
		zap.Stringer("location", cerr.Location),
		zap.Error(cerr.Err),
	)
	c.teardown(ctx, s)
	return cerr
}

func (c *Cache) exists(path string) bool {
	fi, err := c.fs.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
