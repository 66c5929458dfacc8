package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

// S3API defines the subset of the S3 client used by the backend.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

type s3backend struct {
	client S3API
	prefix string
}

// NewS3 returns a new Amazon S3 backend.
// Bucket names are prefixed by prefix (e.g. the stack name) to get the physical bucket names.
func NewS3(client S3API, prefix string) Backend {
	return &s3backend{
		client: client,
		prefix: prefix,
	}
}

func (b *s3backend) Name() string {
	return "s3"
}

func (b *s3backend) Reader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.prefix + bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3NotFound(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
		}
		return nil, errors.Wrap(err, "could not get object")
	}
	return output.Body, nil
}

func (b *s3backend) Writer(ctx context.Context, bucket, key string) (io.WriteCloser, error) {
	return &bufferedWriter{
		commit: func(payload []byte) error {
			_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(b.prefix + bucket),
				Key:           aws.String(key),
				Body:          bytes.NewReader(payload),
				ContentLength: aws.Int64(int64(len(payload))),
			})
			return errors.Wrap(err, "could not put object")
		},
	}, nil
}

func (b *s3backend) Remove(ctx context.Context, bucket, key string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.prefix + bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3NotFound(err) {
			return errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
		}
		return errors.Wrap(err, "could not head object")
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.prefix + bucket),
		Key:    aws.String(key),
	})
	return errors.Wrap(err, "could not delete object")
}

func (b *s3backend) Cleanup() error {
	return nil // S3 has no directories
}

func s3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

//
//-----
//

// A bufferedWriter keeps the payload in memory and commits it on Close.
// Object stores need the content length before the upload starts.
type bufferedWriter struct {
	bytes.Buffer
	commit func(payload []byte) error
	closed bool
}

func (w *bufferedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.commit(w.Bytes())
}

// CloseWithError drops the buffered payload without committing it.
func (w *bufferedWriter) CloseWithError(error) error {
	w.closed = true
	w.Reset()
	return nil
}
