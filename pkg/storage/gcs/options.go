package gcs

import (
	gcsStorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Option is a functor to pass optional parameters to the gcs store
type Option func(*gcs)

// Logger specifies a logger for this store
func Logger(logger *zap.Logger) Option {
	return func(g *gcs) {
		if logger != nil {
			g.l = logger
		}
	}
}

// ClientOptions are passed to the google client constructors, e.g. credentials or endpoint
func ClientOptions(opts ...option.ClientOption) Option {
	return func(g *gcs) {
		g.clientOptions = append(g.clientOptions, opts...)
	}
}

// CredentialsFile uses a service account key file instead of the default credentials
func CredentialsFile(path string) Option {
	return func(g *gcs) {
		if path != "" {
			g.clientOptions = append(g.clientOptions, option.WithCredentialsFile(path))
		}
	}
}

// Client uses a preconfigured client for all operations
func Client(client *gcsStorage.Client) Option {
	return func(g *gcs) {
		g.client = client
		g.readOnlyClient = client
	}
}
