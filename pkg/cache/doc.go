// Copyright © 2018 One Concern

// Package cache presents remote storage objects as ordinary local files.
//
// A Cache maps caller-chosen keys to remote locations. Handles on keys lazily
// download objects into a session-scoped staging directory, track local
// modifications and upload them back on explicit commits:
//
//	c := cache.New(store, cache.WithLogger(l))
//	if err := c.Init(ctx, map[string]location.Ref{"in": location.URL("s3://bucket/in.csv")}); err != nil {
//		return err
//	}
//	defer func() { _ = c.Destroy(ctx) }()
//
//	path, err := c.Handle("in").Path(ctx)
//	...
//	err = c.CommitChanged(ctx)
//
// Any failure tears down the whole session before the error is returned: the
// staging directory is removed and the cache must be initialized again.
//
// Modification tracking relies on file system notifications and is best-effort.
// The staging budget is an advisory estimate, decremented by downloads only.
package cache
