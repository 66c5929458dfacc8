package service

import (
	"context"

	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/pkg/errors"
)

// A Destroyer removes file(s) from storage.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// An ObjectDestroyer removes the file from storage.
// Removing a missing object succeeds.
type ObjectDestroyer struct {
	database  database.Client
	storage   storage.Backend
	principal policy.Principal
	bucket    string
	key       string
}

// NewObjectDestroyer returns a new ObjectDestroyer.
func NewObjectDestroyer(database database.Client, storage storage.Backend, principal policy.Principal, bucket, key string) Destroyer {
	return &ObjectDestroyer{
		database:  database,
		storage:   storage,
		principal: principal,
		bucket:    bucket,
		key:       key,
	}
}

// Destroy implements Destroyer.
func (s *ObjectDestroyer) Destroy(ctx context.Context) error {
	err := s.principal.Authorize(policy.DeleteObject, policy.Object(s.bucket, s.key))
	if err != nil {
		return err
	}

	err = s.storage.Remove(ctx, s.bucket, s.key)
	if err != nil && !storage.IsNotFound(err) {
		return errors.Wrap(err, "ObjectDestroyer storage")
	}

	object, err := s.database.FindObjectByKey(s.bucket, s.key)
	if s.database.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "ObjectDestroyer index")
	}

	err = s.database.DeleteObject(object.ID)
	return errors.Wrap(err, "ObjectDestroyer object")
}
