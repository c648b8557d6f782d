// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
	"mime"

	"github.com/oneconcern/datacache/pkg/location"
)

const (
	// DefaultStorageClass is the storage tier used for uploads when none is specified
	DefaultStorageClass = "STANDARD"

	// DefaultContentType is used when no better content type is known
	DefaultContentType = "application/octet-stream"
)

// Attrs describes the metadata of a remote object
type Attrs struct {
	Size        int64
	ContentType string
}

// PutOptions qualify an upload
type PutOptions struct {
	ContentType  string
	StorageClass string
}

// Store implementations know how to read and write objects to a remote object storage.
//
// Typically this is something like S3, GCS or a local file system.
// Implementations of this interface are assumed to be fairly simple: no retries, no caching.
type Store interface {
	String() string
	Head(context.Context, location.Location) (Attrs, error)
	Get(context.Context, location.Location) (io.ReadCloser, error)
	Put(context.Context, location.Location, io.Reader, PutOptions) error
	Delete(context.Context, location.Location) error
}

// ContentTypeFor infers a content type from the extension of an object key
func ContentTypeFor(loc location.Location) string {
	if ct := mime.TypeByExtension(loc.Ext()); ct != "" {
		return ct
	}
	return DefaultContentType
}

// Normalize fills in default options for an upload to loc
func (o PutOptions) Normalize(loc location.Location) PutOptions {
	if o.ContentType == "" {
		o.ContentType = ContentTypeFor(loc)
	}
	if o.StorageClass == "" {
		o.StorageClass = DefaultStorageClass
	}
	return o
}
