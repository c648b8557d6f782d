package cache

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/cache/status"
	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/watch"
)

// Destroy ends the current session: watches are closed, the staging directory is removed,
// and with the Rollback option, all objects committed during the session are deleted.
//
// The session state is cleared whatever happens. The returned error reports cleanup failures.
// Destroying a cache with no active session is a no-op.
func (c *Cache) Destroy(ctx context.Context, opts ...DestroyOption) error {
	var ds destroySettings
	for _, apply := range opts {
		apply(&ds)
	}

	c.mu.Lock()
	s := c.session
	c.session = nil
	watches := detachWatches(s)
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return c.destroySession(ctx, s, watches, ds.rollback)
}

// teardown destroys s if it is still the current session.
//
// Committed objects are rolled back only with the WithRollbackOnFailure option.
func (c *Cache) teardown(ctx context.Context, s *session) {
	if s == nil {
		return
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	watches := detachWatches(s)
	c.mu.Unlock()

	if err := c.destroySession(ctx, s, watches, c.rollbackOnFail); err != nil {
		c.l.Warn("teardown incomplete", zap.Error(err))
	}
}

func detachWatches(s *session) []watch.Handle {
	if s == nil {
		return nil
	}
	watches := make([]watch.Handle, 0, len(s.entries))
	for _, e := range s.entries {
		if w := e.detachWatch(); w != nil {
			watches = append(watches, w)
		}
	}
	return watches
}

// destroySession releases the resources of a session no longer reachable from the cache
func (c *Cache) destroySession(ctx context.Context, s *session, watches []watch.Handle, rollback bool) error {
	var errs error

	// watches are closed before their files are removed
	for _, w := range watches {
		multierr.AppendInto(&errs, w.Close())
	}
	multierr.AppendInto(&errs, s.area.Close())

	if rollback && len(s.committed) > 0 {
		multierr.AppendInto(&errs, c.rollback(ctx, s.committed))
	}

	c.metrics.available.Set(0)
	c.l.Info("cache destroyed",
		zap.String("staging", s.area.Root()),
		zap.Bool("rollback", rollback),
		zap.Int("committed", len(s.committed)),
		zap.NamedError("cleanup", errs),
	)
	return errs
}

// rollback deletes committed objects, best-effort: all deletions are attempted, none is retried
func (c *Cache) rollback(ctx context.Context, committed []location.Location) error {
	p := pool.New().WithErrors().WithMaxGoroutines(c.concurrency)
	for _, toPin := range committed {
		loc := toPin
		p.Go(func() error {
			if err := c.store.Delete(ctx, loc); err != nil {
				return status.ErrUpstream.Wrap(fmt.Errorf("rollback of %s: %w", loc, err))
			}
			c.metrics.rollbacks.Inc()
			c.l.Debug("committed object deleted", zap.Stringer("location", loc))
			return nil
		})
	}
	return p.Wait()
}
