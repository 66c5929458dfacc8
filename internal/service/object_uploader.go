package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/pkg/errors"
)

// A Notifier is informed of every object created in a bucket.
type Notifier interface {
	ObjectCreated(ctx context.Context, object *model.Object) error
}

// An ObjectUploader performs upload and metrics.
type ObjectUploader struct {
	database  database.Client
	storage   storage.Backend
	principal policy.Principal
	notifier  Notifier
	object    *model.Object
}

// NewObjectUploader returns a new ObjectUploader.
func NewObjectUploader(database database.Client, storage storage.Backend, principal policy.Principal, object *model.Object) *ObjectUploader {
	return &ObjectUploader{
		database:  database,
		storage:   storage,
		principal: principal,
		object:    object,
	}
}

// WithNotifier sets the notifier informed once the object is stored.
func (s *ObjectUploader) WithNotifier(notifier Notifier) *ObjectUploader {
	s.notifier = notifier
	return s
}

// Upload performs the upload and update the inner Object.
func (s *ObjectUploader) Upload(ctx context.Context, r io.Reader) error {
	err := s.principal.Authorize(policy.PutObject, policy.Object(s.object.Bucket, s.object.Key))
	if err != nil {
		return err
	}

	wc, err := s.storage.Writer(ctx, s.object.Bucket, s.object.Key)
	if err != nil {
		return errors.Wrap(err, "ObjectUploader writer")
	}

	h := md5.New()
	w := io.MultiWriter(h, wc)

	n, err := io.Copy(w, r)
	if err != nil {
		storage.Abort(wc, err)
		return errors.Wrap(err, "ObjectUploader copy")
	}

	if err = wc.Close(); err != nil {
		return errors.Wrap(err, "ObjectUploader commit")
	}

	s.object.Size = n
	s.object.Checksum = hex.EncodeToString(h.Sum(nil))

	//

	previous, err := s.database.FindObjectByKey(s.object.Bucket, s.object.Key)
	if err != nil && !s.database.IsNotFound(err) {
		return errors.Wrap(err, "ObjectUploader index")
	}
	if err == nil {
		s.object.ID = previous.ID
		s.object.CreatedAt = previous.CreatedAt
	}

	if err = s.database.Save(s.object); err != nil {
		return errors.Wrap(err, "ObjectUploader index")
	}

	//

	if s.notifier == nil {
		return nil
	}
	return errors.Wrap(s.notifier.ObjectCreated(ctx, s.object), "ObjectUploader notification")
}

// Object returns the uploaded object.
func (s *ObjectUploader) Object() *model.Object {
	return s.object
}

// LogNotifier is a Notifier that only logs the created objects.
type LogNotifier struct {
	Logger logger.Logger
}

// ObjectCreated implements Notifier.
func (n LogNotifier) ObjectCreated(_ context.Context, object *model.Object) error {
	n.Logger.Debugf("Object created %s/%s", object.Bucket, object.Key)
	return nil
}
