package cache

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/staging"
	"github.com/oneconcern/datacache/pkg/storage"
	"github.com/oneconcern/datacache/pkg/storage/localfs"
	"github.com/oneconcern/datacache/pkg/watch"
)

const (
	testBudget  = 1000000
	testContent = "some text" // 9 bytes
)

var (
	locA = location.Location{Bucket: "bkt", Key: "a.txt"}
	locB = location.Location{Bucket: "bkt", Key: "dir/b.csv"}
)

// countingStore counts calls to an underlying store
type countingStore struct {
	storage.Store
	heads, gets, puts, deletes atomic.Int32
}

func (s *countingStore) Head(ctx context.Context, loc location.Location) (storage.Attrs, error) {
	s.heads.Add(1)
	return s.Store.Head(ctx, loc)
}

func (s *countingStore) Get(ctx context.Context, loc location.Location) (io.ReadCloser, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, loc)
}

func (s *countingStore) Put(ctx context.Context, loc location.Location, rdr io.Reader, opts storage.PutOptions) error {
	s.puts.Add(1)
	return s.Store.Put(ctx, loc, rdr, opts)
}

func (s *countingStore) Delete(ctx context.Context, loc location.Location) error {
	s.deletes.Add(1)
	return s.Store.Delete(ctx, loc)
}

// fakeWatcher lets tests simulate file notifications
type fakeWatcher struct {
	mu        sync.Mutex
	callbacks map[string]func()
	closed    int
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{callbacks: make(map[string]func())}
}

func (w *fakeWatcher) Watch(path string, onChange func()) (watch.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks[path] = onChange
	return &fakeHandle{w: w, path: path}, nil
}

func (w *fakeWatcher) touch(path string) bool {
	w.mu.Lock()
	cb, ok := w.callbacks[path]
	w.mu.Unlock()
	if ok {
		cb()
	}
	return ok
}

func (w *fakeWatcher) watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.callbacks)
}

type fakeHandle struct {
	w    *fakeWatcher
	path string
}

func (h *fakeHandle) Close() error {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	delete(h.w.callbacks, h.path)
	h.w.closed++
	return nil
}

func fixedSpace(free int64) staging.SpaceFunc {
	return func(string) (int64, error) { return free, nil }
}

type testEnv struct {
	cache    *Cache
	store    *countingStore
	remoteFs afero.Fs
	watcher  *fakeWatcher
	tempRoot string
}

func setupCache(t testing.TB, opts ...Option) testEnv {
	t.Helper()

	remoteFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(remoteFs, "bkt/a.txt", []byte(testContent), 0600))
	require.NoError(t, afero.WriteFile(remoteFs, "bkt/dir/b.csv", []byte("x,y\n1,2\n"), 0600))

	env := testEnv{
		store:    &countingStore{Store: localfs.New(remoteFs)},
		remoteFs: remoteFs,
		watcher:  newFakeWatcher(),
		tempRoot: t.TempDir(),
	}
	defaults := []Option{
		WithTempRoot(env.tempRoot),
		WithWatcher(env.watcher),
		WithSpaceFunc(fixedSpace(testBudget)),
		WithLogger(zaptest.NewLogger(t)),
	}
	env.cache = New(env.store, append(defaults, opts...)...)
	return env
}

func (env testEnv) remoteContent(t testing.TB, loc location.Location) string {
	t.Helper()
	b, err := afero.ReadFile(env.remoteFs, loc.Bucket+"/"+loc.Key)
	require.NoError(t, err)
	return string(b)
}

func (env testEnv) remoteExists(t testing.TB, loc location.Location) bool {
	t.Helper()
	ok, err := afero.Exists(env.remoteFs, loc.Bucket+"/"+loc.Key)
	require.NoError(t, err)
	return ok
}

func defaultRefs() map[string]location.Ref {
	return map[string]location.Ref{
		"a": location.URL("s3://bkt/a.txt"),
		"b": location.Object("bkt", "dir/b.csv"),
	}
}
