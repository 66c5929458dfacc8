package service

import (
	"context"
	"io"

	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/pkg/errors"
)

// A Downloader streams an object.
type Downloader interface {
	Stream(ctx context.Context) (io.ReadCloser, error)
	ContentType() string
	Size() int64
	Checksum() string
}

// An ObjectDownloader streams an object from storage.
type ObjectDownloader struct {
	database  database.Client
	storage   storage.Backend
	principal policy.Principal
	object    *model.Object
}

// NewObjectDownloader returns a new ObjectDownloader.
func NewObjectDownloader(database database.Client, storage storage.Backend, principal policy.Principal, bucket, key string) Downloader {
	return &ObjectDownloader{
		database:  database,
		storage:   storage,
		principal: principal,
		object: &model.Object{
			Bucket: bucket,
			Key:    key,
		},
	}
}

// Stream returns the content of the object.
// The object metadata are available once Stream succeeded.
func (s *ObjectDownloader) Stream(ctx context.Context) (io.ReadCloser, error) {
	err := s.principal.Authorize(policy.GetObject, policy.Object(s.object.Bucket, s.object.Key))
	if err != nil {
		return nil, err
	}

	object, err := s.database.FindObjectByKey(s.object.Bucket, s.object.Key)
	if err != nil && !s.database.IsNotFound(err) {
		return nil, errors.Wrap(err, "ObjectDownloader index")
	}
	if err == nil {
		s.object = object
	}

	return s.storage.Reader(ctx, s.object.Bucket, s.object.Key)
}

// ContentType returns the content type of the object.
func (s *ObjectDownloader) ContentType() string {
	return s.object.ContentType
}

// Size returns the size of the object.
func (s *ObjectDownloader) Size() int64 {
	return s.object.Size
}

// Checksum returns the md5 of the object.
func (s *ObjectDownloader) Checksum() string {
	return s.object.Checksum
}

// ReadAll reads the whole object.
func ReadAll(ctx context.Context, d Downloader) ([]byte, error) {
	r, err := d.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	return data, errors.Wrap(err, "could not read object")
}
