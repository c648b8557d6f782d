// Package status exports errors produced by the cache package.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/cache and the
// packages it relies on (e.g. pkg/location, pkg/staging).
package status

import (
	"github.com/oneconcern/datacache/pkg/errors"
)

var (
	// ErrNotInitialized indicates an operation was attempted before Init, or after Destroy
	ErrNotInitialized = errors.New("cache not initialized")

	// ErrInvalidLocation indicates a malformed remote object reference
	ErrInvalidLocation = errors.New("invalid remote location")

	// ErrUnknownKey indicates the cache key is not registered in the current session
	ErrUnknownKey = errors.New("unknown cache key")

	// ErrLocalFileNotFound indicates the staged file backing a cache key does not exist
	ErrLocalFileNotFound = errors.New("local file not found")

	// ErrQuotaExceeded indicates a remote object is larger than the remaining staging budget
	ErrQuotaExceeded = errors.New("staging quota exceeded")

	// ErrUpstream wraps any failure reported by the remote object storage
	ErrUpstream = errors.New("upstream storage error")

	// ErrStagingUnavailable indicates the staging directory could not be prepared
	ErrStagingUnavailable = errors.New("staging area unavailable")
)
