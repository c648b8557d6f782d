package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/oneconcern/datacache/pkg/cache/status"
	"github.com/oneconcern/datacache/pkg/errors"
	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/storage"
	"github.com/oneconcern/datacache/pkg/storage/mockstorage"
	storagestatus "github.com/oneconcern/datacache/pkg/storage/status"
)

var locOut = location.Location{Bucket: "bkt", Key: "out/result.json"}

func TestRoundTrip(t *testing.T) {
	env := setupCache(t)
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))
	defer func() { _ = env.cache.Destroy(ctx) }()

	h, err := env.cache.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "")
	require.NoError(t, err)
	assert.Equal(t, "out", h.Key())
	assert.True(t, env.cache.Exists("out"))
	assert.True(t, h.Modified(), "a placeholder is pending commit")

	path, err := h.Path(ctx)
	require.NoError(t, err)
	assert.NoFileExists(t, path, "the placeholder file is created by the caller")
	assert.Equal(t, ".json", filepath.Ext(path))
	assert.Equal(t, env.cache.StagingDir(), filepath.Dir(path))
	assert.Zero(t, env.store.gets.Load())

	require.NoError(t, os.WriteFile(path, []byte(`{"ok":true}`), 0600))
	require.NoError(t, h.Commit(ctx))

	assert.Equal(t, `{"ok":true}`, env.remoteContent(t, locOut))
	assert.Equal(t, []location.Location{locOut}, env.cache.Committed())
	assert.False(t, h.Modified())
	assert.Equal(t, 1, env.watcher.watching(), "committed files are watched")

	// committing twice to the same location records it once
	require.NoError(t, h.Commit(ctx))
	assert.Equal(t, []location.Location{locOut}, env.cache.Committed())
	assert.EqualValues(t, 2, env.store.puts.Load())

	// uploads do not credit the budget
	assert.EqualValues(t, testBudget, env.cache.Available())
}

func TestDownloadModifyCommit(t *testing.T) {
	env := setupCache(t)
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))
	defer func() { _ = env.cache.Destroy(ctx) }()

	h := env.cache.Handle("a")
	path, err := h.Path(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, testBudget-9, env.cache.Available())

	require.NoError(t, os.WriteFile(path, []byte("other text"), 0600))
	require.True(t, env.watcher.touch(path))
	require.NoError(t, h.Commit(ctx))

	assert.Equal(t, "other text", env.remoteContent(t, locA))
	assert.Equal(t, []location.Location{locA}, env.cache.Committed())
}

func TestCommitMissingFile(t *testing.T) {
	ctx := context.Background()

	t.Run("placeholder never created", func(t *testing.T) {
		m := mockstorage.New()
		env := setupCache(t)
		c := New(m, WithTempRoot(env.tempRoot), WithWatcher(env.watcher), WithSpaceFunc(fixedSpace(testBudget)), WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, c.Init(ctx, nil))
		staged := c.StagingDir()

		h, err := c.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "application/json")
		require.NoError(t, err)

		err = h.Commit(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrLocalFileNotFound))
		assert.Contains(t, err.Error(), `commit "out" (bkt/out/result.json)`)

		m.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.False(t, c.Exists("out"))
		assert.NoDirExists(t, staged)
	})

	t.Run("key never downloaded", func(t *testing.T) {
		env := setupCache(t)
		require.NoError(t, env.cache.Init(ctx, defaultRefs()))

		err := env.cache.Handle("a").Commit(ctx)
		assert.True(t, errors.Is(err, status.ErrLocalFileNotFound))
		assert.Zero(t, env.store.puts.Load())
		assert.False(t, env.cache.Exists("a"))
	})

	t.Run("file removed", func(t *testing.T) {
		env := setupCache(t)
		require.NoError(t, env.cache.Init(ctx, defaultRefs()))

		h := env.cache.Handle("a")
		path, err := h.Path(ctx)
		require.NoError(t, err)
		require.NoError(t, os.Remove(path))

		err = h.Commit(ctx)
		assert.True(t, errors.Is(err, status.ErrLocalFileNotFound))
		assert.Zero(t, env.store.puts.Load())
	})
}

func TestCommitOverrides(t *testing.T) {
	ctx := context.Background()
	copyLoc := location.Location{Bucket: "archive", Key: "copies/result.csv"}

	m := mockstorage.New()
	m.On("Put", mock.Anything, copyLoc, mock.Anything, storage.PutOptions{
		ContentType:  "text/csv",
		StorageClass: "NEARLINE",
	}).Return(nil).Once()

	env := setupCache(t)
	c := New(m,
		WithTempRoot(env.tempRoot),
		WithWatcher(env.watcher),
		WithSpaceFunc(fixedSpace(testBudget)),
		WithStorageClass("NEARLINE"),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, c.Init(ctx, nil))
	defer func() { _ = c.Destroy(ctx) }()

	h, err := c.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "")
	require.NoError(t, err)
	path, err := h.Path(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("x,y\n"), 0600))

	require.NoError(t, h.Commit(ctx, ToLocation(copyLoc), WithMimeType("text/csv")))
	m.AssertExpectations(t)

	loc, ok := c.Location("out")
	require.True(t, ok)
	assert.Equal(t, locOut, loc, "the registry is left unchanged")
	assert.Equal(t, []location.Location{copyLoc}, c.Committed())

	// an invalid override is rejected before any upload
	err = h.Commit(ctx, ToLocation(location.Location{Bucket: "archive"}))
	assert.True(t, errors.Is(err, status.ErrInvalidLocation))
	m.AssertNumberOfCalls(t, "Put", 1)
}

func TestRegisterInfersMimeType(t *testing.T) {
	ctx := context.Background()
	m := mockstorage.New()
	m.On("Put", mock.Anything, locOut, mock.Anything, storage.PutOptions{
		ContentType:  "application/json",
		StorageClass: storage.DefaultStorageClass,
	}).Return(nil).Once()

	env := setupCache(t)
	c := New(m, WithTempRoot(env.tempRoot), WithWatcher(env.watcher), WithSpaceFunc(fixedSpace(testBudget)))
	require.NoError(t, c.Init(ctx, nil))
	defer func() { _ = c.Destroy(ctx) }()

	h, err := c.RegisterFutureFile(ctx, "out", location.Object("bkt", "out/result.json"), "")
	require.NoError(t, err)
	path, err := h.Path(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	require.NoError(t, h.Commit(ctx))
	m.AssertExpectations(t)
}

func TestRegisterInvalidLocation(t *testing.T) {
	env := setupCache(t)
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))

	_, err := env.cache.RegisterFutureFile(ctx, "out", location.URL("no-scheme/out.txt"), "")
	assert.True(t, errors.Is(err, status.ErrInvalidLocation))
	assert.False(t, env.cache.Exists("a"))
}

func TestCommitUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	m := mockstorage.New()
	m.On("Put", mock.Anything, locOut, mock.Anything, mock.Anything).
		Return(storagestatus.ErrUnauthorized.WrapMessage("expired token")).Once()

	env := setupCache(t)
	c := New(m, WithTempRoot(env.tempRoot), WithWatcher(env.watcher), WithSpaceFunc(fixedSpace(testBudget)))
	require.NoError(t, c.Init(ctx, nil))
	staged := c.StagingDir()

	h, err := c.RegisterFutureFile(ctx, "out", location.URL("gs://bkt/out/result.json"), "")
	require.NoError(t, err)
	path, err := h.Path(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	err = h.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrUpstream))
	assert.True(t, errors.Is(err, storagestatus.ErrUnauthorized))
	assert.Empty(t, c.Committed())
	assert.NoDirExists(t, staged)
	m.AssertExpectations(t)
}

func TestCommitChanged(t *testing.T) {
	env := setupCache(t)
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))
	defer func() { _ = env.cache.Destroy(ctx) }()

	// nothing changed yet
	require.NoError(t, env.cache.CommitChanged(ctx))
	assert.Zero(t, env.store.puts.Load())

	pathA, err := env.cache.Handle("a").Path(ctx)
	require.NoError(t, err)
	_, err = env.cache.Handle("b").Path(ctx)
	require.NoError(t, err)

	out, err := env.cache.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "")
	require.NoError(t, err)
	outPath, err := out.Path(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(outPath, []byte("{}"), 0600))

	require.NoError(t, os.WriteFile(pathA, []byte("changed"), 0600))
	require.True(t, env.watcher.touch(pathA))
	assert.True(t, env.cache.Handle("a").Modified())
	assert.False(t, env.cache.Handle("b").Modified())

	require.NoError(t, env.cache.CommitChanged(ctx))

	assert.EqualValues(t, 2, env.store.puts.Load(), "only a and out are uploaded")
	assert.Equal(t, "changed", env.remoteContent(t, locA))
	assert.Equal(t, "{}", env.remoteContent(t, locOut))
	assert.ElementsMatch(t, []location.Location{locA, locOut}, env.cache.Committed())
	for _, key := range []string{"a", "b", "out"} {
		assert.False(t, env.cache.Handle(key).Modified(), key)
	}

	// nothing left to commit
	require.NoError(t, env.cache.CommitChanged(ctx))
	assert.EqualValues(t, 2, env.store.puts.Load())

	// further changes on a committed placeholder are picked up
	require.NoError(t, os.WriteFile(outPath, []byte(`{"v":2}`), 0600))
	require.True(t, env.watcher.touch(outPath))
	require.NoError(t, env.cache.CommitChanged(ctx))
	assert.Equal(t, `{"v":2}`, env.remoteContent(t, locOut))
}

func TestCommitChangedFailure(t *testing.T) {
	env := setupCache(t)
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))
	staged := env.cache.StagingDir()

	_, err := env.cache.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "")
	require.NoError(t, err)

	err = env.cache.CommitChanged(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrLocalFileNotFound))

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, OpCommitChanged, cerr.Op)
	assert.Equal(t, "out", cerr.Key)
	assert.Equal(t, locOut, cerr.Location)

	assert.False(t, env.remoteExists(t, locOut))
	assert.False(t, env.cache.Exists("a"))
	assert.NoDirExists(t, staged)
}

func TestDestroyRollback(t *testing.T) {
	ctx := context.Background()

	for _, toPin := range []struct {
		name     string
		rollback bool
	}{
		{name: "keep committed objects", rollback: false},
		{name: "rollback committed objects", rollback: true},
	} {
		tc := toPin
		t.Run(tc.name, func(t *testing.T) {
			env := setupCache(t)
			require.NoError(t, env.cache.Init(ctx, defaultRefs()))

			h, err := env.cache.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "")
			require.NoError(t, err)
			path, err := h.Path(ctx)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
			require.NoError(t, h.Commit(ctx))
			require.True(t, env.remoteExists(t, locOut))

			require.NoError(t, env.cache.Destroy(ctx, Rollback(tc.rollback)))

			assert.Equal(t, !tc.rollback, env.remoteExists(t, locOut))
			// objects never committed are not touched
			assert.True(t, env.remoteExists(t, locA))
			if tc.rollback {
				assert.EqualValues(t, 1, env.store.deletes.Load())
			} else {
				assert.Zero(t, env.store.deletes.Load())
			}
		})
	}
}

func TestRollbackFailure(t *testing.T) {
	ctx := context.Background()
	other := location.Location{Bucket: "bkt", Key: "out/other.txt"}

	m := mockstorage.New()
	m.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()
	m.On("Delete", mock.Anything, locOut).Return(storagestatus.ErrForbidden).Once()
	m.On("Delete", mock.Anything, other).Return(nil).Once()

	env := setupCache(t)
	c := New(m, WithTempRoot(env.tempRoot), WithWatcher(env.watcher), WithSpaceFunc(fixedSpace(testBudget)))
	require.NoError(t, c.Init(ctx, nil))
	staged := c.StagingDir()

	for key, loc := range map[string]location.Location{"out": locOut, "other": other} {
		h, err := c.RegisterFutureFile(ctx, key, location.At(loc), "")
		require.NoError(t, err)
		path, err := h.Path(ctx)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, []byte("data"), 0600))
		require.NoError(t, h.Commit(ctx))
	}

	err := c.Destroy(ctx, Rollback(true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrUpstream))
	assert.True(t, errors.Is(err, storagestatus.ErrForbidden))

	// all deletions are attempted and the session is cleared anyway
	m.AssertExpectations(t)
	assert.False(t, c.Exists("out"))
	assert.NoDirExists(t, staged)
}

func TestConcurrentKeys(t *testing.T) {
	env := setupCache(t)
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))
	defer func() { _ = env.cache.Destroy(ctx) }()

	var wg sync.WaitGroup
	paths := make([]string, 2)
	for i, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			p, err := env.cache.Handle(key).Path(ctx)
			assert.NoError(t, err)
			paths[i] = p
		}(i, key)
	}
	wg.Wait()

	assert.NotEqual(t, paths[0], paths[1])
	assert.FileExists(t, paths[0])
	assert.FileExists(t, paths[1])
	assert.EqualValues(t, testBudget-9-8, env.cache.Available())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := setupCache(t, WithMetrics(reg))
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))

	path, err := env.cache.Handle("a").Path(ctx)
	require.NoError(t, err)
	require.True(t, env.watcher.touch(path))
	require.NoError(t, env.cache.CommitChanged(ctx))

	m := env.cache.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.downloadedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.committedBytes))
	assert.Equal(t, float64(testBudget-9), testutil.ToFloat64(m.available))

	require.NoError(t, env.cache.Destroy(ctx, Rollback(true)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks))

	_, err = env.cache.Handle("a").Path(ctx)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(OpPath)))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestFileNotifications(t *testing.T) {
	defer goleak.VerifyNone(t)

	remote := setupCache(t)
	ctx := context.Background()

	// default watcher, backed by fsnotify
	c := New(remote.store,
		WithTempRoot(remote.tempRoot),
		WithSpaceFunc(fixedSpace(testBudget)),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, c.Init(ctx, defaultRefs()))

	h := c.Handle("a")
	path, err := h.Path(ctx)
	require.NoError(t, err)
	require.False(t, h.Modified())

	require.NoError(t, os.WriteFile(path, []byte("edited in place"), 0600))
	assert.Eventually(t, h.Modified, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, c.CommitChanged(ctx))
	assert.Equal(t, "edited in place", remote.remoteContent(t, locA))

	require.NoError(t, c.Destroy(ctx))
}

func TestRollbackOnFailure(t *testing.T) {
	env := setupCache(t, WithRollbackOnFailure(true))
	ctx := context.Background()
	require.NoError(t, env.cache.Init(ctx, defaultRefs()))

	h, err := env.cache.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "")
	require.NoError(t, err)
	path, err := h.Path(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	require.NoError(t, h.Commit(ctx))
	require.True(t, env.remoteExists(t, locOut))

	// a placeholder never created makes the next batch of commits fail
	_, err = env.cache.RegisterFutureFile(ctx, "missing", location.URL("s3://bkt/out/missing.json"), "")
	require.NoError(t, err)
	err = env.cache.CommitChanged(ctx)
	require.True(t, errors.Is(err, status.ErrLocalFileNotFound))

	assert.False(t, env.remoteExists(t, locOut), "objects committed before the failure are deleted")
	assert.True(t, env.remoteExists(t, locA))
}

func TestRoundTripFreshSession(t *testing.T) {
	env := setupCache(t)
	ctx := context.Background()
	payload := []byte("bytes written in the first session")

	require.NoError(t, env.cache.Init(ctx, nil))
	h, err := env.cache.RegisterFutureFile(ctx, "out", location.URL("s3://bkt/out/result.json"), "")
	require.NoError(t, err)
	path, err := h.Path(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, payload, 0600))
	require.NoError(t, h.Commit(ctx))
	require.NoError(t, env.cache.Destroy(ctx))

	require.NoError(t, env.cache.Init(ctx, map[string]location.Ref{"again": location.At(locOut)}))
	defer func() { _ = env.cache.Destroy(ctx) }()

	again, err := env.cache.Handle("again").Path(ctx)
	require.NoError(t, err)
	b, err := os.ReadFile(again)
	require.NoError(t, err)
	assert.Equal(t, payload, b)
	assert.EqualValues(t, testBudget-len(payload), env.cache.Available())
}

func TestMetricsSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := setupCache(t, WithMetrics(reg))

	var second testEnv
	require.NotPanics(t, func() {
		second = setupCache(t, WithMetrics(reg))
	})

	ctx := context.Background()
	require.NoError(t, first.cache.Init(ctx, defaultRefs()))
	defer func() { _ = first.cache.Destroy(ctx) }()
	require.NoError(t, second.cache.Init(ctx, defaultRefs()))
	defer func() { _ = second.cache.Destroy(ctx) }()

	_, err := first.cache.Handle("a").Path(ctx)
	require.NoError(t, err)
	_, err = second.cache.Handle("b").Path(ctx)
	require.NoError(t, err)

	// both caches count into the same collectors
	assert.Equal(t, 2.0, testutil.ToFloat64(first.cache.metrics.downloads))
	assert.Equal(t, 17.0, testutil.ToFloat64(second.cache.metrics.downloadedBytes))

	count, err := testutil.GatherAndCount(reg, "datacache_downloads_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
