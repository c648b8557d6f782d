package cache

import (
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/staging"
	"github.com/oneconcern/datacache/pkg/storage"
	"github.com/oneconcern/datacache/pkg/watch"
)

// Option for the cache
type Option func(*settings)

type settings struct {
	fs              afero.Fs
	tempRoot        string
	storageClass    string
	watcher         watch.Watcher
	l               *zap.Logger
	space           staging.SpaceFunc
	maxStagingBytes int64
	concurrency     int
	registerer      prometheus.Registerer
	rollbackOnFail  bool
}

var defaultConcurrency = 2 * runtime.NumCPU()

func defaultSettings() settings {
	return settings{
		fs:           afero.NewOsFs(),
		tempRoot:     os.TempDir(),
		storageClass: storage.DefaultStorageClass,
		l:            zap.NewNop(),
		concurrency:  defaultConcurrency,
	}
}

// WithTempRoot sets the directory under which staging areas are created. It defaults to os.TempDir().
func WithTempRoot(dir string) Option {
	return func(s *settings) {
		if dir != "" {
			s.tempRoot = dir
		}
	}
}

// WithStorageClass sets the storage class of uploaded objects. It defaults to STANDARD.
func WithStorageClass(class string) Option {
	return func(s *settings) {
		if class != "" {
			s.storageClass = class
		}
	}
}

// WithFs sets the file system holding staged files. It defaults to the OS file system.
//
// Paths handed out by the cache are only meaningful to other programs with the OS file system.
func WithFs(fs afero.Fs) Option {
	return func(s *settings) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithWatcher sets the way local modifications are detected. It defaults to fsnotify.
func WithWatcher(w watch.Watcher) Option {
	return func(s *settings) {
		s.watcher = w
	}
}

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.l = l
		}
	}
}

// WithSpaceFunc overrides the way free space on the temporary root is estimated
func WithSpaceFunc(fn staging.SpaceFunc) Option {
	return func(s *settings) {
		s.space = fn
	}
}

// WithMaxStagingBytes caps the staging budget below the available free space
func WithMaxStagingBytes(max int64) Option {
	return func(s *settings) {
		s.maxStagingBytes = max
	}
}

// WithConcurrency sets the max number of parallel uploads or deletions. It defaults to 2 x #cpus.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMetrics registers the cache metrics with a prometheus registerer
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// WithRollbackOnFailure deletes the objects committed during a session when a failure tears it down
func WithRollbackOnFailure(enabled bool) Option {
	return func(s *settings) {
		s.rollbackOnFail = enabled
	}
}

// CommitOption overrides the destination of a commit
type CommitOption func(*commitSettings)

type commitSettings struct {
	target   *location.Location
	mimeType string
}

// ToLocation commits to another location than the one registered for the key.
//
// The registry is left unchanged.
func ToLocation(loc location.Location) CommitOption {
	return func(s *commitSettings) {
		s.target = &loc
	}
}

// WithMimeType sets the content type of the uploaded object
func WithMimeType(mimeType string) CommitOption {
	return func(s *commitSettings) {
		s.mimeType = mimeType
	}
}

// DestroyOption alters teardown
type DestroyOption func(*destroySettings)

type destroySettings struct {
	rollback bool
}

// Rollback deletes all objects committed during the session
func Rollback(enabled bool) DestroyOption {
	return func(s *destroySettings) {
		s.rollback = enabled
	}
}
