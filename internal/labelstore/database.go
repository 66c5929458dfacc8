package labelstore

import (
	"context"
	"strings"
	"sync"

	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

type db struct {
	mu       sync.Mutex
	database database.Client
}

// NewDatabase returns a Store backed by the metadata database.
func NewDatabase(database database.Client) Store {
	return &db{
		database: database,
	}
}

func (s *db) Put(_ context.Context, label *model.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.database.FindLabel(label.Image)
	if err != nil && !s.database.IsNotFound(err) {
		return errors.Wrap(err, "labelstore")
	}
	if err == nil {
		label.ID = previous.ID
		label.CreatedAt = previous.CreatedAt
	}

	return errors.Wrap(s.database.Save(label), "labelstore")
}

func (s *db) Get(_ context.Context, image string) (*model.Label, error) {
	label, err := s.database.FindLabel(image)
	if s.database.IsNotFound(err) {
		return nil, errors.Wrap(ErrNotFound, image)
	}
	return label, errors.Wrap(err, "labelstore")
}

func (s *db) Delete(_ context.Context, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	label, err := s.database.FindLabel(image)
	if s.database.IsNotFound(err) {
		return errors.Wrap(ErrNotFound, image)
	}
	if err != nil {
		return errors.Wrap(err, "labelstore")
	}

	return errors.Wrap(s.database.Delete(label), "labelstore")
}

func (s *db) List(_ context.Context, prefix string) ([]*model.Label, error) {
	labels, err := s.database.AllLabels()
	if err != nil && !s.database.IsNotFound(err) {
		return nil, errors.Wrap(err, "labelstore")
	}

	result := make([]*model.Label, 0, len(labels))
	for _, label := range labels {
		if strings.HasPrefix(label.Image, prefix) {
			result = append(result, label)
		}
	}
	return result, nil
}
