package database

import (
	"github.com/mdouchement/rekbox/internal/model"
)

type (
	// A Client can interacts with the database.
	Client interface {
		// Save inserts or updates the entry in database with the given model.
		Save(m model.Model) error
		// Delete deletes the entry in database with the given model.
		Delete(m model.Model) error
		// Close the database.
		Close() error
		// IsNotFound returns true if err is a not found error.
		IsNotFound(err error) bool

		ObjectInteraction
		LabelInteraction
		MessageInteraction
		IdentityInteraction
	}

	// An ObjectInteraction defines all the methods used to interact with an object record.
	ObjectInteraction interface {
		AllObjects() ([]*model.Object, error)
		FindObjectsByBucket(bucket string) ([]*model.Object, error)
		FindObjectByKey(bucket, key string) (*model.Object, error)
		DeleteObject(id string) error
	}

	// A LabelInteraction defines all the methods used to interact with a label record.
	LabelInteraction interface {
		AllLabels() ([]*model.Label, error)
		FindLabel(image string) (*model.Label, error)
		DeleteLabel(image string) error
	}

	// A MessageInteraction defines all the methods used to interact with a queue message.
	MessageInteraction interface {
		FindMessagesByQueue(queue string) ([]*model.Message, error)
		FindMessageByReceipt(queue, receipt string) (*model.Message, error)
		DeleteMessage(id string) error
	}

	// An IdentityInteraction defines all the methods used to interact with an identity record.
	IdentityInteraction interface {
		AllIdentities() ([]*model.Identity, error)
		FindIdentityByUsername(username string) (*model.Identity, error)
		FindIdentityByEmail(email string) (*model.Identity, error)
		DeleteIdentity(id string) error
	}
)
