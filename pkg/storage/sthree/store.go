// Package sthree implements a storage.Store backed by AWS S3 or any S3-compatible API.
package sthree

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/storage"
)

// Option is a functor to pass optional parameters to the s3 store
type Option func(*s3FS)

// AWSConfig sets the configuration used to build the AWS session
func AWSConfig(cfg *aws.Config) Option {
	return func(fs *s3FS) {
		fs.awsConfig = cfg
	}
}

// Client uses a preconfigured S3 client
func Client(client s3iface.S3API) Option {
	return func(fs *s3FS) {
		fs.s3 = client
	}
}

// Logger specifies a logger for this store
func Logger(logger *zap.Logger) Option {
	return func(fs *s3FS) {
		if logger != nil {
			fs.l = logger
		}
	}
}

// New builds a store for S3
func New(options ...Option) (storage.Store, error) {
	fs := &s3FS{
		l: zap.NewNop(),
	}
	for _, apply := range options {
		apply(fs)
	}

	if fs.s3 == nil {
		sess, err := session.NewSession(fs.awsConfig)
		if err != nil {
			return nil, err
		}
		fs.s3 = s3.New(sess)
	}
	fs.uploader = s3manager.NewUploaderWithClient(fs.s3)
	return fs, nil
}

type s3FS struct {
	awsConfig *aws.Config
	s3        s3iface.S3API
	uploader  *s3manager.Uploader
	l         *zap.Logger
}

func (s *s3FS) Head(ctx context.Context, loc location.Location) (storage.Attrs, error) {
	obj, err := s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return storage.Attrs{}, toSentinelErrors(err)
	}

	attrs := storage.Attrs{
		Size:        aws.Int64Value(obj.ContentLength),
		ContentType: aws.StringValue(obj.ContentType),
	}
	if attrs.ContentType == "" {
		attrs.ContentType = storage.ContentTypeFor(loc)
	}
	return attrs, nil
}

func (s *s3FS) Get(ctx context.Context, loc location.Location) (io.ReadCloser, error) {
	obj, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return obj.Body, nil
}

func (s *s3FS) Put(ctx context.Context, loc location.Location, rdr io.Reader, opts storage.PutOptions) error {
	opts = opts.Normalize(loc)
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(loc.Bucket),
		Key:          aws.String(loc.Key),
		Body:         rdr,
		ContentType:  aws.String(opts.ContentType),
		StorageClass: aws.String(opts.StorageClass),
	})
	if err != nil {
		return toSentinelErrors(err)
	}
	s.l.Debug("s3 upload complete", zap.Stringer("location", loc), zap.String("upload", out.Location))
	return nil
}

func (s *s3FS) Delete(ctx context.Context, loc location.Location) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	return toSentinelErrors(err)
}

func (s *s3FS) String() string {
	return "s3"
}
