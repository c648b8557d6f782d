// Package mockstorage provides a mock of storage.Store, to inject failures in tests.
package mockstorage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/storage"
)

var _ storage.Store = &Store{}

// Store mocks a storage.Store
type Store struct {
	mock.Mock
}

// New mocked store
func New() *Store {
	return &Store{}
}

func (m *Store) String() string {
	return "mock"
}

func (m *Store) Head(ctx context.Context, loc location.Location) (storage.Attrs, error) {
	args := m.Called(ctx, loc)
	return args.Get(0).(storage.Attrs), args.Error(1)
}

func (m *Store) Get(ctx context.Context, loc location.Location) (io.ReadCloser, error) {
	args := m.Called(ctx, loc)
	rdr, _ := args.Get(0).(io.ReadCloser)
	return rdr, args.Error(1)
}

// Put drains the reader before returning the mocked result, like a real upload would
func (m *Store) Put(ctx context.Context, loc location.Location, rdr io.Reader, opts storage.PutOptions) error {
	args := m.Called(ctx, loc, rdr, opts)
	_, _ = io.Copy(io.Discard, rdr)
	return args.Error(0)
}

func (m *Store) Delete(ctx context.Context, loc location.Location) error {
	args := m.Called(ctx, loc)
	return args.Error(0)
}
