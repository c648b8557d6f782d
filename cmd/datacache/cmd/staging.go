package cmd

import (
	"context"
	"os"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oneconcern/datacache/pkg/cache"
	"github.com/oneconcern/datacache/pkg/location"
)

func newCache(ctx context.Context, rt *runtimeT, extra ...cache.Option) (*cache.Cache, error) {
	store, err := rt.cfg.NewStore(ctx, rt.l)
	if err != nil {
		return nil, err
	}
	opts, err := rt.cfg.CacheOptions(rt.l)
	if err != nil {
		return nil, err
	}
	return cache.New(store, append(opts, extra...)...), nil
}

// stageInputs downloads all registered inputs in parallel and returns their local paths
func stageInputs(ctx context.Context, c *cache.Cache, keys []string, concurrency int) (map[string]string, error) {
	paths := make([]string, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			p, err := c.Handle(key).Path(gctx)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	staged := make(map[string]string, len(keys))
	for i, key := range keys {
		staged[key] = paths[i]
	}
	return staged, nil
}

// registerOutputs registers future files and returns their local paths
func registerOutputs(ctx context.Context, c *cache.Cache, outputs map[string]location.Ref) (map[string]string, error) {
	paths := make(map[string]string, len(outputs))
	for _, key := range sortedKeys(outputs) {
		h, err := c.RegisterFutureFile(ctx, key, outputs[key], "")
		if err != nil {
			return nil, err
		}
		p, err := h.Path(ctx)
		if err != nil {
			return nil, err
		}
		paths[key] = p
	}
	return paths, nil
}

func fileSize(l *zap.Logger, path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		l.Warn("could not stat staged file", zap.String("path", path), zap.Error(err))
		return -1
	}
	return fi.Size()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
