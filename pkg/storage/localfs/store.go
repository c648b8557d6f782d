// Copyright © 2018 One Concern

// Package localfs implements a storage.Store on top of a local file system.
//
// Buckets map to top-level directories, keys to paths relative to these.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/storage"
	"github.com/oneconcern/datacache/pkg/storage/status"
)

// staging area for atomic puts, within the afero.Fs itself
const nestedPutStageName = ".put-stage"

// New creates a new local file system backed storage model.
//
// Puts are atomic whenever Rename() is atomic on the underlying afero.Fs:
// objects are first written in a staging area, then renamed into place.
func New(fs afero.Fs) storage.Store {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".datacache", "objects"))
	}
	return &localFS{
		fs: fs,
	}
}

type localFS struct {
	fs afero.Fs
}

func maybeInvalidLocation(loc location.Location) error {
	if loc.Bucket == "" || loc.Key == "" {
		return status.ErrInvalidResource.WrapMessage(fmt.Sprintf("incomplete location %q", loc.String()))
	}
	if loc.Bucket == nestedPutStageName {
		return status.ErrInvalidResource.WrapMessage(
			fmt.Sprintf("bucket %q conflicts with put staging area name %q", loc.Bucket, nestedPutStageName),
		)
	}
	return nil
}

func objectPath(loc location.Location) string {
	return filepath.Join(loc.Bucket, filepath.FromSlash(loc.Key))
}

func (l *localFS) Head(ctx context.Context, loc location.Location) (storage.Attrs, error) {
	if err := maybeInvalidLocation(loc); err != nil {
		return storage.Attrs{}, err
	}
	fi, err := l.fs.Stat(objectPath(loc))
	if err != nil {
		return storage.Attrs{}, toSentinelErrors(err)
	}
	if fi.IsDir() {
		return storage.Attrs{}, status.ErrNotExists.WrapMessage(fmt.Sprintf("%q is a directory", loc.String()))
	}
	return storage.Attrs{
		Size:        fi.Size(),
		ContentType: storage.ContentTypeFor(loc),
	}, nil
}

func (l *localFS) Get(ctx context.Context, loc location.Location) (io.ReadCloser, error) {
	if _, err := l.Head(ctx, loc); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(objectPath(loc))
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return f, nil
}

func (l *localFS) Put(ctx context.Context, loc location.Location, source io.Reader, _ storage.PutOptions) error {
	if err := maybeInvalidLocation(loc); err != nil {
		return err
	}
	key := objectPath(loc)
	putStageKey := filepath.Join(nestedPutStageName, key)

	if err := l.fs.MkdirAll(filepath.Dir(putStageKey), 0700); err != nil {
		return fmt.Errorf("ensuring put staging directories for %q: %w", key, err)
	}
	target, err := l.fs.OpenFile(putStageKey, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create record for %q: %w", key, err)
	}
	if _, err = io.Copy(target, source); err != nil {
		_ = target.Close()
		_ = l.fs.Remove(putStageKey)
		return fmt.Errorf("write record for %q: %w", key, err)
	}
	if err = target.Close(); err != nil {
		_ = l.fs.Remove(putStageKey)
		return err
	}

	// Rename() doesn't create directories automatically
	if err := l.fs.MkdirAll(filepath.Dir(key), 0700); err != nil {
		return fmt.Errorf("ensuring directories for %q: %w", key, err)
	}
	return l.fs.Rename(putStageKey, key)
}

func (l *localFS) Delete(ctx context.Context, loc location.Location) error {
	if err := maybeInvalidLocation(loc); err != nil {
		return err
	}
	if err := l.fs.Remove(objectPath(loc)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", loc.String(), err)
	}
	return nil
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}

func toSentinelErrors(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return status.ErrNotExists.Wrap(err)
	case os.IsPermission(err):
		return status.ErrForbidden.Wrap(err)
	default:
		return err
	}
}
