// Copyright © 2018 One Concern

// Package location resolves references to remote objects into canonical
// bucket/key locations.
//
// A reference comes either as a URL such as "s3://bucket/path/to/key", or in
// structured form. References are resolved once, when they enter the cache:
// the rest of the system only deals with Location values.
package location

import (
	"net/url"
	"path"
	"strings"

	"github.com/oneconcern/datacache/pkg/cache/status"
)

// Location is the canonical address of an object in remote storage
type Location struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
}

// String renders the location as bucket/key
func (l Location) String() string {
	return l.Bucket + "/" + l.Key
}

// URL renders the location as scheme://bucket/key, with the key left verbatim like Parse expects it
func (l Location) URL(scheme string) string {
	return scheme + "://" + l.Bucket + "/" + l.Key
}

// Ext returns the file extension of the object key, if any
func (l Location) Ext() string {
	return path.Ext(l.Key)
}

// IsZero tells if this location is empty
func (l Location) IsZero() bool {
	return l.Bucket == "" && l.Key == ""
}

func (l Location) validate() error {
	if l.Bucket == "" {
		return status.ErrInvalidLocation.WrapMessage("missing bucket")
	}
	if l.Key == "" {
		return status.ErrInvalidLocation.WrapMessage("missing key in bucket " + l.Bucket)
	}
	return nil
}

// Parse a reference of the form scheme://bucket/key.
//
// The host part is the bucket. The key is the raw text after the bucket and its
// separator: it is neither unescaped nor split at "?" or "#", which are legal in object keys.
// Any scheme is accepted, since the storage backend is chosen when building the cache.
func Parse(ref string) (Location, error) {
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" {
		return Location{}, status.ErrInvalidLocation.WrapMessage("missing scheme in " + ref)
	}
	authority, key, _ := strings.Cut(rest, "/")

	// the scheme and bucket must make a valid URL on their own
	u, err := url.Parse(scheme + "://" + authority)
	if err != nil {
		return Location{}, status.ErrInvalidLocation.Wrap(err)
	}
	if !strings.EqualFold(u.Scheme, scheme) || u.Host != authority || u.User != nil {
		return Location{}, status.ErrInvalidLocation.WrapMessage("invalid bucket in " + ref)
	}

	loc := Location{
		Bucket: authority,
		Key:    key,
	}
	if err := loc.validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Resolve a reference to its canonical location
func Resolve(ref Ref) (Location, error) {
	switch ref.kind {
	case kindURL:
		return Parse(ref.url)
	case kindObject:
		if err := ref.loc.validate(); err != nil {
			return Location{}, err
		}
		return ref.loc, nil
	default:
		return Location{}, status.ErrInvalidLocation.WrapMessage("empty reference")
	}
}

// MustParse is like Parse, but panics on error
func MustParse(ref string) Location {
	loc, err := Parse(ref)
	if err != nil {
		panic(err)
	}
	return loc
}
