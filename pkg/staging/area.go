// Copyright © 2018 One Concern

// Package staging manages the local directory in which remote objects are staged.
//
// An Area is created for every cache session, as a uniquely named sub-directory of
// some temporary root. It carries an advisory budget of bytes, initialized from
// the free space on the temporary root's file system: the budget is decremented
// by downloads and never queried again from the file system.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"

	"github.com/oneconcern/datacache/pkg/cache/status"
)

const areaPrefix = "datacache-"

// Area is a session-scoped staging directory with a budget of bytes
type Area struct {
	fs        afero.Fs
	root      string
	available atomic.Int64
	space     SpaceFunc
	maxBytes  int64
}

// Open a new staging area under tempRoot
func Open(fs afero.Fs, tempRoot string, opts ...Option) (*Area, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}

	a := &Area{
		fs:    fs,
		space: FreeSpace,
	}
	for _, apply := range opts {
		apply(a)
	}

	id, err := ksuid.NewRandom()
	if err != nil {
		return nil, status.ErrStagingUnavailable.Wrap(err)
	}
	root := filepath.Join(tempRoot, areaPrefix+id.String())
	if err = fs.MkdirAll(root, 0700); err != nil {
		return nil, status.ErrStagingUnavailable.Wrap(fmt.Errorf("creating staging directory %q: %w", root, err))
	}

	free, err := a.space(tempRoot)
	if err != nil {
		_ = fs.RemoveAll(root)
		return nil, status.ErrStagingUnavailable.Wrap(fmt.Errorf("querying free space on %q: %w", tempRoot, err))
	}
	if a.maxBytes > 0 && a.maxBytes < free {
		free = a.maxBytes
	}

	a.root = root
	a.available.Store(free)
	return a, nil
}

// Root directory of this staging area
func (a *Area) Root() string {
	return a.root
}

// Available bytes left in the budget
func (a *Area) Available() int64 {
	return a.available.Load()
}

// Reserve tells if size bytes fit in the remaining budget.
//
// The budget is not decremented: callers Consume the actual size once the transfer is done.
func (a *Area) Reserve(size int64) bool {
	return size <= a.available.Load()
}

// Consume size bytes from the budget
func (a *Area) Consume(size int64) {
	a.available.Add(-size)
}

// NewPath returns a fresh, randomly named path within the area, with the given extension.
//
// The file is not created.
func (a *Area) NewPath(ext string) string {
	return filepath.Join(a.root, ksuid.New().String()+ext)
}

// Contains tells if path is located within this staging area
func (a *Area) Contains(path string) bool {
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Close removes the staging directory and all its content.
//
// Closing an area which directory no longer exists is not an error.
func (a *Area) Close() error {
	if err := a.fs.RemoveAll(a.root); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staging directory %q: %w", a.root, err)
	}
	return nil
}
