// Package objectstore defines the abstraction backing uploaded score bytes
// and rendered audio artifacts (SPEC_FULL.md §9), plus a local-filesystem
// implementation matching spec.md §6's persisted scratch layout:
//
//	sessions/{uid}/{session_id}/
//	  input.{xml|mxl}          # uploaded score (immutable)
//	  score.json               # latest parsed snapshot
//	  jobs/{job_id}/output.wav  # final audio
//
// A second (cloud-backed) implementation is out of scope — the reference
// stack has no object-storage SDK for this concern — and is not provided.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by GetObject and SignURL when key does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// Store is the minimal contract the Edge and workers need for session
// scratch storage: write once, read back, and produce a reference a
// range-aware HTTP handler can serve from.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// PutObject writes the entirety of r under key, replacing any existing
	// object at that key.
	PutObject(ctx context.Context, key string, r io.Reader) error

	// GetObject opens key for reading. The caller must Close the returned
	// ReadCloser. Returns ErrNotFound if key does not exist.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// StatObject returns the size in bytes of the object at key, without
	// opening it. Returns ErrNotFound if key does not exist.
	StatObject(ctx context.Context, key string) (size int64, err error)

	// SignURL returns a reference to key suitable for a range-aware HTTP
	// handler to serve from. For the local-filesystem implementation this
	// is the absolute path; a cloud implementation would return a
	// presigned URL instead.
	SignURL(ctx context.Context, key string) (string, error)

	// DeleteAll removes every object whose key has the given prefix. Used
	// to reclaim a session's scratch directory on eviction.
	DeleteAll(ctx context.Context, prefix string) error
}
