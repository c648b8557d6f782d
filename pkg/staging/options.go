package staging

import (
	"golang.org/x/sys/unix"
)

// SpaceFunc reports the free space available to unprivileged users on the file system holding path
type SpaceFunc func(path string) (int64, error)

// Option for a staging area
type Option func(*Area)

// WithSpaceFunc overrides the way free space is estimated
func WithSpaceFunc(fn SpaceFunc) Option {
	return func(a *Area) {
		if fn != nil {
			a.space = fn
		}
	}
}

// WithMaxBytes caps the staging budget. Zero or negative means no cap.
func WithMaxBytes(max int64) Option {
	return func(a *Area) {
		a.maxBytes = max
	}
}

// FreeSpace queries the file system holding path with statfs(2)
func FreeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
