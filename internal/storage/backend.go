package storage

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a blob does not exist in the backend.
var ErrNotFound = errors.New("object not found")

// Backend is the interface that wraps the basic blob operations.
// A bucket is a namespace of the backend, a key is the path of the blob inside a bucket.
type Backend interface {
	// Name returns the name of the backend implementation.
	Name() string

	// Reader returns a ReadCloser of the blob.
	Reader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Writer returns a WriteCloser of the blob. The blob is committed on Close.
	// The returned writer implements Aborter.
	Writer(ctx context.Context, bucket, key string) (io.WriteCloser, error)

	// Remove deletes the given blob.
	Remove(ctx context.Context, bucket, key string) error
	// Cleanup cleans useless artifacts in storage.
	Cleanup() error
}

// An Aborter is a blob writer able to discard the pending blob instead of committing it.
type Aborter interface {
	CloseWithError(err error) error
}

// Abort discards the pending blob of wc. The previous version of the blob, if any, is kept.
func Abort(wc io.WriteCloser, cause error) error {
	if a, ok := wc.(Aborter); ok {
		return a.CloseWithError(cause)
	}
	return wc.Close()
}

// IsNotFound returns true if err is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
