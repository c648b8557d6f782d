package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/opentracing/opentracing-go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/cache"
	"github.com/oneconcern/datacache/pkg/storage"
	"github.com/oneconcern/datacache/pkg/storage/gcs"
	"github.com/oneconcern/datacache/pkg/storage/localfs"
	"github.com/oneconcern/datacache/pkg/storage/sthree"
)

// NewStore builds the configured storage backend.
//
// The store is instrumented with the global opentracing tracer, which is a no-op unless set by the caller.
func (c *Config) NewStore(ctx context.Context, l *zap.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)

	switch c.Backend {
	case BackendS3:
		awsConfig := aws.NewConfig()
		if c.Region != "" {
			awsConfig = awsConfig.WithRegion(c.Region)
		}
		if c.Endpoint != "" {
			awsConfig = awsConfig.WithEndpoint(c.Endpoint).WithS3ForcePathStyle(true)
		}
		store, err = sthree.New(sthree.AWSConfig(awsConfig), sthree.Logger(l))

	case BackendGCS:
		opts := []gcs.Option{gcs.Logger(l)}
		if c.Credential != "" {
			opts = append(opts, gcs.CredentialsFile(c.Credential))
		}
		store, err = gcs.New(ctx, opts...)

	case BackendLocalFS:
		store = localfs.New(afero.NewBasePathFs(afero.NewOsFs(), c.LocalRoot))

	default:
		err = fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s storage: %w", c.Backend, err)
	}

	return storage.Instrument(opentracing.GlobalTracer(), l, store), nil
}

// CacheOptions translates the configuration into cache options
func (c *Config) CacheOptions(l *zap.Logger) ([]cache.Option, error) {
	maxBytes, err := c.MaxStagingBytes()
	if err != nil {
		return nil, err
	}
	return []cache.Option{
		cache.WithTempRoot(c.TempRoot),
		cache.WithStorageClass(c.StorageClass),
		cache.WithMaxStagingBytes(maxBytes),
		cache.WithConcurrency(c.Concurrency),
		cache.WithLogger(l),
	}, nil
}
