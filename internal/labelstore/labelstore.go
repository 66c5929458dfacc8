// Package labelstore persists the detection results, one record per image.
package labelstore

import (
	"context"

	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no label record exists for an image.
var ErrNotFound = errors.New("label not found")

// A Store persists label records keyed by image identifier.
type Store interface {
	// Put writes the label record, the last write wins.
	Put(ctx context.Context, label *model.Label) error
	// Get returns the label record of the image.
	Get(ctx context.Context, image string) (*model.Label, error)
	// Delete removes the label record of the image.
	Delete(ctx context.Context, image string) error
	// List returns the label records whose image starts with prefix, sorted by image.
	List(ctx context.Context, prefix string) ([]*model.Label, error)
}

// IsNotFound returns true if err is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type guard struct {
	store     Store
	principal policy.Principal
	resource  string
}

// NewGuard returns a Store that authorizes every call of principal on the given table.
func NewGuard(store Store, principal policy.Principal, table string) Store {
	return &guard{
		store:     store,
		principal: principal,
		resource:  policy.Table(table),
	}
}

func (s *guard) Put(ctx context.Context, label *model.Label) error {
	if err := s.principal.Authorize(policy.PutItem, s.resource); err != nil {
		return err
	}
	return s.store.Put(ctx, label)
}

func (s *guard) Get(ctx context.Context, image string) (*model.Label, error) {
	if err := s.principal.Authorize(policy.GetItem, s.resource); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, image)
}

func (s *guard) Delete(ctx context.Context, image string) error {
	if err := s.principal.Authorize(policy.DeleteItem, s.resource); err != nil {
		return err
	}
	return s.store.Delete(ctx, image)
}

func (s *guard) List(ctx context.Context, prefix string) ([]*model.Label, error) {
	if err := s.principal.Authorize(policy.Query, s.resource); err != nil {
		return nil, err
	}
	return s.store.List(ctx, prefix)
}
