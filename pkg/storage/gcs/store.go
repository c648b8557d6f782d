// Copyright © 2018 One Concern

// Package gcs implements a storage.Store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"io"

	gcsStorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/storage"
)

type gcs struct {
	client         *gcsStorage.Client
	readOnlyClient *gcsStorage.Client
	clientOptions  []option.ClientOption
	l              *zap.Logger
}

// New builds a store for GCS.
//
// Unless a client is provided with the Client option, two clients are created:
// a read-only one for heads and downloads, and a full-control one for uploads and deletions.
func New(ctx context.Context, opts ...Option) (storage.Store, error) {
	googleStore := &gcs{
		l: zap.NewNop(),
	}
	for _, apply := range opts {
		apply(googleStore)
	}

	var err error
	if googleStore.readOnlyClient == nil {
		googleStore.readOnlyClient, err = gcsStorage.NewClient(ctx,
			append([]option.ClientOption{option.WithScopes(gcsStorage.ScopeReadOnly)}, googleStore.clientOptions...)...,
		)
		if err != nil {
			return nil, toSentinelErrors(err)
		}
	}
	if googleStore.client == nil {
		googleStore.client, err = gcsStorage.NewClient(ctx,
			append([]option.ClientOption{option.WithScopes(gcsStorage.ScopeFullControl)}, googleStore.clientOptions...)...,
		)
		if err != nil {
			return nil, toSentinelErrors(err)
		}
	}
	return googleStore, nil
}

func (g *gcs) String() string {
	return "gcs"
}

func (g *gcs) Head(ctx context.Context, loc location.Location) (storage.Attrs, error) {
	attrs, err := g.readOnlyClient.Bucket(loc.Bucket).Object(loc.Key).Attrs(ctx)
	if err != nil {
		return storage.Attrs{}, toSentinelErrors(err)
	}
	contentType := attrs.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(loc)
	}
	return storage.Attrs{
		Size:        attrs.Size,
		ContentType: contentType,
	}, nil
}

func (g *gcs) Get(ctx context.Context, loc location.Location) (io.ReadCloser, error) {
	objectReader, err := g.readOnlyClient.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return objectReader, nil
}

func (g *gcs) Put(ctx context.Context, loc location.Location, reader io.Reader, opts storage.PutOptions) error {
	opts = opts.Normalize(loc)

	writer := g.client.Bucket(loc.Bucket).Object(loc.Key).NewWriter(ctx)
	writer.ContentType = opts.ContentType
	writer.StorageClass = opts.StorageClass

	written, err := io.Copy(writer, reader)
	if err != nil {
		_ = writer.Close()
		return toSentinelErrors(err)
	}
	if err = writer.Close(); err != nil {
		return toSentinelErrors(err)
	}
	g.l.Debug("gcs upload complete", zap.Stringer("location", loc), zap.Int64("bytes", written))
	return nil
}

func (g *gcs) Delete(ctx context.Context, loc location.Location) error {
	return toSentinelErrors(g.client.Bucket(loc.Bucket).Object(loc.Key).Delete(ctx))
}
