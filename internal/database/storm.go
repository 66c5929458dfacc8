package database

import (
	"sort"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/json"
	"github.com/asdine/storm/v3/q"
	"github.com/gofrs/uuid"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

type strm struct {
	db *storm.DB
}

// StormCodec is the format used to store data in the database.
var StormCodec = storm.Codec(json.Codec)

var models = []struct {
	name string
	data interface{}
}{
	{name: "object", data: &model.Object{}},
	{name: "label", data: &model.Label{}},
	{name: "message", data: &model.Message{}},
	{name: "identity", data: &model.Identity{}},
}

// StormInit initializes Storm database.
func StormInit(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	for _, m := range models {
		if err := db.Init(m.data); err != nil {
			return errors.Wrapf(err, "could not init %s index", m.name)
		}
	}
	return nil
}

// StormReIndex rebuilds all the indexes of the Storm database.
func StormReIndex(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	for _, m := range models {
		if err := db.ReIndex(m.data); err != nil {
			return errors.Wrapf(err, "could not ReIndex %ss", m.name)
		}
	}
	return nil
}

// StormOpen opens the Storm database.
func StormOpen(database string) (Client, error) {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return nil, errors.Wrap(err, "could not get database connection")
	}

	return &strm{
		db: db,
	}, nil
}

func (c *strm) Save(m model.Model) error {
	t := time.Now().UTC()
	m.SetUpdatedAt(t)

	if m.GetID() == "" {
		m.SetID(uuid.Must(uuid.NewV4()).String())
		m.SetCreatedAt(t)
	}

	return errors.Wrap(c.db.Save(m), "could not save the model")
}

func (c *strm) Delete(m model.Model) error {
	return errors.Wrap(c.db.DeleteStruct(m), "could not delete the model")
}

func (c *strm) Close() error {
	return c.db.Close()
}

func (c *strm) IsNotFound(err error) bool {
	return errors.Cause(err) == storm.ErrNotFound
}

//
// Object
//

func (c *strm) AllObjects() ([]*model.Object, error) {
	objects := make([]*model.Object, 0)
	err := c.db.All(&objects)
	return objects, errors.Wrap(err, "could not get all objects")
}

func (c *strm) FindObjectsByBucket(bucket string) ([]*model.Object, error) {
	objects := make([]*model.Object, 0)
	err := c.db.Select(q.Eq("Bucket", bucket)).OrderBy("Key").Find(&objects)
	return objects, errors.Wrap(err, "could not get objects by bucket")
}

func (c *strm) FindObjectByKey(bucket, key string) (*model.Object, error) {
	var object model.Object
	err := c.db.Select(q.Eq("Bucket", bucket), q.Eq("Key", key)).First(&object)
	return &object, errors.Wrap(err, "could not find object")
}

func (c *strm) DeleteObject(id string) error {
	err := c.db.Select(q.Eq("ID", id)).Delete(&model.Object{})
	return errors.Wrap(err, "could not delete object")
}

//
// Label
//

func (c *strm) AllLabels() ([]*model.Label, error) {
	labels := make([]*model.Label, 0)
	err := c.db.All(&labels)
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].Image < labels[j].Image
	})
	return labels, errors.Wrap(err, "could not get all labels")
}

func (c *strm) FindLabel(image string) (*model.Label, error) {
	var label model.Label
	err := c.db.One("Image", image, &label)
	return &label, errors.Wrap(err, "could not find label")
}

func (c *strm) DeleteLabel(image string) error {
	err := c.db.Select(q.Eq("Image", image)).Delete(&model.Label{})
	return errors.Wrap(err, "could not delete label")
}

//
// Message
//

func (c *strm) FindMessagesByQueue(queue string) ([]*model.Message, error) {
	messages := make([]*model.Message, 0)
	err := c.db.Select(q.Eq("Queue", queue)).Find(&messages)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})
	return messages, errors.Wrap(err, "could not get messages by queue")
}

func (c *strm) FindMessageByReceipt(queue, receipt string) (*model.Message, error) {
	var message model.Message
	err := c.db.Select(q.Eq("Queue", queue), q.Eq("ReceiptHandle", receipt)).First(&message)
	return &message, errors.Wrap(err, "could not find message")
}

func (c *strm) DeleteMessage(id string) error {
	err := c.db.Select(q.Eq("ID", id)).Delete(&model.Message{})
	return errors.Wrap(err, "could not delete message")
}

//
// Identity
//

func (c *strm) AllIdentities() ([]*model.Identity, error) {
	identities := make([]*model.Identity, 0)
	err := c.db.All(&identities)
	return identities, errors.Wrap(err, "could not get all identities")
}

func (c *strm) FindIdentityByUsername(username string) (*model.Identity, error) {
	var identity model.Identity
	err := c.db.One("Username", username, &identity)
	return &identity, errors.Wrap(err, "could not find identity")
}

func (c *strm) FindIdentityByEmail(email string) (*model.Identity, error) {
	var identity model.Identity
	err := c.db.One("Email", email, &identity)
	return &identity, errors.Wrap(err, "could not find identity")
}

func (c *strm) DeleteIdentity(id string) error {
	err := c.db.Select(q.Eq("ID", id)).Delete(&model.Identity{})
	return errors.Wrap(err, "could not delete identity")
}
