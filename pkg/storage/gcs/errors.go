package gcs

import (
	gcsStorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/oneconcern/datacache/pkg/errors"
	"github.com/oneconcern/datacache/pkg/storage/status"
)

func apiErrors(err *googleapi.Error) error {
	switch err.Code {
	case 400:
		if err.Message == "Invalid bucket name" || err.Message == "Bucket is not valid" {
			return status.ErrInvalidResource.Wrap(err)
		}
		return status.ErrStorageAPI.Wrap(err)
	case 401:
		return status.ErrUnauthorized.Wrap(err)
	case 403:
		return status.ErrForbidden.Wrap(err)
	case 404:
		return status.ErrNotFound.Wrap(err)
	default:
		return status.ErrStorageAPI.Wrap(err)
	}
}

func toSentinelErrors(err error) error {
	// return sentinel errors defined by the status package
	if err == nil {
		return nil
	}
	if errors.Is(err, gcsStorage.ErrObjectNotExist) || errors.Is(err, gcsStorage.ErrBucketNotExist) {
		return status.ErrNotExists.Wrap(err)
	}
	var typedErr *googleapi.Error
	if errors.As(err, &typedErr) {
		return apiErrors(typedErr)
	}
	return err
}
