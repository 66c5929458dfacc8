package service

import (
	"strings"

	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/pkg/errors"
)

// An ObjectLister lists the objects of a bucket.
type ObjectLister struct {
	database  database.Client
	principal policy.Principal
}

// NewObjectLister returns a new ObjectLister.
func NewObjectLister(database database.Client, principal policy.Principal) *ObjectLister {
	return &ObjectLister{
		database:  database,
		principal: principal,
	}
}

// List returns the objects of bucket whose key starts with prefix, sorted by key.
// An empty result is not an error.
func (s *ObjectLister) List(bucket, prefix string) ([]*model.Object, error) {
	if err := s.principal.AuthorizeList(bucket, prefix); err != nil {
		return nil, err
	}

	objects, err := s.database.FindObjectsByBucket(bucket)
	if err != nil && !s.database.IsNotFound(err) {
		return nil, errors.Wrap(err, "ObjectLister")
	}

	result := make([]*model.Object, 0, len(objects))
	for _, object := range objects {
		if strings.HasPrefix(object.Key, prefix) {
			result = append(result, object)
		}
	}
	return result, nil
}
