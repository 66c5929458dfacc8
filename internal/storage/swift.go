package storage

import (
	"context"
	"io"

	"github.com/ncw/swift/v2"
	"github.com/pkg/errors"
)

// SwiftAPI defines the subset of the Swift connection used by the backend.
type SwiftAPI interface {
	ObjectOpen(ctx context.Context, container string, objectName string, checkHash bool, h swift.Headers) (*swift.ObjectOpenFile, swift.Headers, error)
	ObjectCreate(ctx context.Context, container string, objectName string, checkHash bool, Hash string, contentType string, h swift.Headers) (*swift.ObjectCreateFile, error)
	ObjectDelete(ctx context.Context, container string, objectName string) error
}

var (
	_ SwiftAPI = (*swift.Connection)(nil)
	_ Aborter  = (*swift.ObjectCreateFile)(nil)
)

type swiftBackend struct {
	conn   SwiftAPI
	prefix string
}

// NewSwift returns a new OpenStack Swift backend. Buckets are Swift containers.
func NewSwift(conn SwiftAPI, prefix string) Backend {
	return &swiftBackend{
		conn:   conn,
		prefix: prefix,
	}
}

func (b *swiftBackend) Name() string {
	return "swift"
}

func (b *swiftBackend) Reader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	f, _, err := b.conn.ObjectOpen(ctx, b.prefix+bucket, key, false, nil)
	if err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
		}
		return nil, errors.Wrap(err, "could not open object")
	}
	return f, nil
}

func (b *swiftBackend) Writer(ctx context.Context, bucket, key string) (io.WriteCloser, error) {
	f, err := b.conn.ObjectCreate(ctx, b.prefix+bucket, key, true, "", "", nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not create object")
	}
	return f, nil
}

func (b *swiftBackend) Remove(ctx context.Context, bucket, key string) error {
	err := b.conn.ObjectDelete(ctx, b.prefix+bucket, key)
	if errors.Is(err, swift.ObjectNotFound) {
		return errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
	}
	return errors.Wrap(err, "could not delete object")
}

func (b *swiftBackend) Cleanup() error {
	return nil
}
