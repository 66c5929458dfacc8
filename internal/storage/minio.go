package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
)

// MinioAPI defines the subset of the MinIO client used by the backend.
type MinioAPI interface {
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

var _ MinioAPI = (*minio.Client)(nil)

type minioBackend struct {
	client MinioAPI
	prefix string
}

// NewMinio returns a new S3-compatible backend served by MinIO.
func NewMinio(client MinioAPI, prefix string) Backend {
	return &minioBackend{
		client: client,
		prefix: prefix,
	}
}

func (b *minioBackend) Name() string {
	return "minio"
}

func (b *minioBackend) Reader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := b.stat(ctx, bucket, key); err != nil {
		return nil, err
	}

	object, err := b.client.GetObject(ctx, b.prefix+bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "could not get object")
	}
	return object, nil
}

func (b *minioBackend) Writer(ctx context.Context, bucket, key string) (io.WriteCloser, error) {
	return &bufferedWriter{
		commit: func(payload []byte) error {
			_, err := b.client.PutObject(ctx, b.prefix+bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
				ContentType: "application/octet-stream",
			})
			return errors.Wrap(err, "could not put object")
		},
	}, nil
}

func (b *minioBackend) Remove(ctx context.Context, bucket, key string) error {
	if err := b.stat(ctx, bucket, key); err != nil {
		return err
	}

	err := b.client.RemoveObject(ctx, b.prefix+bucket, key, minio.RemoveObjectOptions{})
	return errors.Wrap(err, "could not remove object")
}

func (b *minioBackend) Cleanup() error {
	return nil
}

func (b *minioBackend) stat(ctx context.Context, bucket, key string) error {
	_, err := b.client.StatObject(ctx, b.prefix+bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}

	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
	}
	return errors.Wrap(err, "could not stat object")
}
