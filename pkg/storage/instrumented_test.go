package storage_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/storage"
	"github.com/oneconcern/datacache/pkg/storage/localfs"
)

func TestInstrument(t *testing.T) {
	tracer := mocktracer.New()
	store := storage.Instrument(tracer, zap.NewNop(), localfs.New(afero.NewMemMapFs()))
	assert.Equal(t, "localfs", store.String())

	loc := location.Location{Bucket: "bkt", Key: "a.txt"}
	missing := location.Location{Bucket: "bkt", Key: "b.txt"}

	parent := tracer.StartSpan("parent")
	ctx := opentracing.ContextWithSpan(context.Background(), parent)

	require.NoError(t, store.Put(ctx, loc, bytes.NewBufferString("content"), storage.PutOptions{}))

	attrs, err := store.Head(ctx, loc)
	require.NoError(t, err)
	assert.EqualValues(t, 7, attrs.Size)

	rdr, err := store.Get(context.Background(), loc)
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "content", string(b))

	_, err = store.Head(context.Background(), missing)
	require.Error(t, err)

	require.NoError(t, store.Delete(context.Background(), loc))
	parent.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 6)

	assert.Equal(t, "storage.localfs.Put", spans[0].OperationName)
	assert.Equal(t, parent.Context().(mocktracer.MockSpanContext).SpanID, spans[0].ParentID)
	assert.Equal(t, "bkt", spans[0].Tag("bucket"))
	assert.Equal(t, "a.txt", spans[0].Tag("key"))

	assert.Equal(t, "storage.localfs.Head", spans[1].OperationName)
	assert.Equal(t, "storage.localfs.Get", spans[2].OperationName)
	assert.Zero(t, spans[2].ParentID)

	assert.Equal(t, "storage.localfs.Head", spans[3].OperationName)
	assert.Equal(t, true, spans[3].Tag("error"))

	assert.Equal(t, "storage.localfs.Delete", spans[4].OperationName)
	assert.Equal(t, "parent", spans[5].OperationName)
}

func TestNormalize(t *testing.T) {
	opts := storage.PutOptions{}.Normalize(location.Location{Bucket: "b", Key: "x.json"})
	assert.Equal(t, "application/json", opts.ContentType)
	assert.Equal(t, storage.DefaultStorageClass, opts.StorageClass)

	opts = storage.PutOptions{ContentType: "text/csv", StorageClass: "GLACIER"}.Normalize(location.Location{Bucket: "b", Key: "x"})
	assert.Equal(t, "text/csv", opts.ContentType)
	assert.Equal(t, "GLACIER", opts.StorageClass)

	assert.Equal(t, storage.DefaultContentType, storage.ContentTypeFor(location.Location{Bucket: "b", Key: "noext"}))
}
