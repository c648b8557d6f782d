// Copyright © 2018 One Concern

// Package storage provides interface to handle remote storage objects.
//
// This package supports the following backends:
//   - GCS (Google)
//   - S3 (AWS)
//   - local file system
//
// Objects are addressed by a location.Location: unlike a single-bucket store,
// a backend may be used against any bucket it has access to.
package storage
