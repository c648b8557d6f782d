// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/location"
)

// Instrument a store with tracing spans and debug logs.
//
// A nil tracer falls back on the global opentracing tracer, a nil logger disables logs.
func Instrument(tr opentracing.Tracer, l *zap.Logger, store Store) Store {
	if tr == nil {
		tr = opentracing.GlobalTracer()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &instrumentedStore{
		tr:    tr,
		store: store,
		l:     l.With(zap.String("store", store.String())),
	}
}

type instrumentedStore struct {
	store Store
	tr    opentracing.Tracer
	l     *zap.Logger
}

func (i *instrumentedStore) opName(name string) string {
	return strings.Join([]string{"storage", i.String(), name}, ".")
}

func (i *instrumentedStore) spanFromContext(ctx context.Context, name string, loc location.Location) opentracing.Span {
	parent := opentracing.SpanFromContext(ctx)
	var span opentracing.Span
	if parent != nil {
		span = i.tr.StartSpan(name, opentracing.ChildOf(parent.Context()))
	} else {
		span = i.tr.StartSpan(name)
	}
	span.SetTag("bucket", loc.Bucket)
	span.SetTag("key", loc.Key)
	return span
}

func (i *instrumentedStore) finish(span opentracing.Span, err error) {
	if err != nil {
		span.SetTag("error", true)
		span.LogKV("event", "error", "message", err.Error())
	}
	span.Finish()
}

func (i *instrumentedStore) Head(ctx context.Context, loc location.Location) (attrs Attrs, err error) {
	span := i.spanFromContext(ctx, i.opName("Head"), loc)
	defer func() { i.finish(span, err) }()

	i.l.Debug("storage head", zap.Stringer("location", loc))
	return i.store.Head(ctx, loc)
}

func (i *instrumentedStore) Get(ctx context.Context, loc location.Location) (rdr io.ReadCloser, err error) {
	span := i.spanFromContext(ctx, i.opName("Get"), loc)
	defer func() { i.finish(span, err) }()

	i.l.Debug("storage get", zap.Stringer("location", loc))
	return i.store.Get(ctx, loc)
}

func (i *instrumentedStore) Put(ctx context.Context, loc location.Location, rdr io.Reader, opts PutOptions) (err error) {
	span := i.spanFromContext(ctx, i.opName("Put"), loc)
	defer func() { i.finish(span, err) }()

	i.l.Debug("storage put",
		zap.Stringer("location", loc),
		zap.String("content-type", opts.ContentType),
		zap.String("storage-class", opts.StorageClass),
	)
	return i.store.Put(ctx, loc, rdr, opts)
}

func (i *instrumentedStore) Delete(ctx context.Context, loc location.Location) (err error) {
	span := i.spanFromContext(ctx, i.opName("Delete"), loc)
	defer func() { i.finish(span, err) }()

	i.l.Debug("storage delete", zap.Stringer("location", loc))
	return i.store.Delete(ctx, loc)
}

func (i *instrumentedStore) String() string {
	return i.store.String()
}
