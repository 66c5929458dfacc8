package notification

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

// EventObjectCreated is the name of the object creation events.
const EventObjectCreated = "ObjectCreated:Put"

type (
	// An Event is an S3-like object notification.
	Event struct {
		Records []Record `json:"Records"`
	}

	// A Record describes one object event.
	Record struct {
		EventVersion string    `json:"eventVersion"`
		EventSource  string    `json:"eventSource"`
		EventTime    time.Time `json:"eventTime"`
		EventName    string    `json:"eventName"`
		S3           Entity    `json:"s3"`
	}

	// An Entity is the bucket and object concerned by a record.
	Entity struct {
		Bucket BucketEntity `json:"bucket"`
		Object ObjectEntity `json:"object"`
	}

	// A BucketEntity describes the bucket of a record.
	BucketEntity struct {
		Name string `json:"name"`
	}

	// An ObjectEntity describes the object of a record.
	// Key is URL-encoded as done by S3.
	ObjectEntity struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
		ETag string `json:"eTag"`
	}
)

// ObjectCreated returns the creation event of the given object.
func ObjectCreated(object *model.Object) Event {
	return Event{
		Records: []Record{{
			EventVersion: "2.1",
			EventSource:  "rekbox:s3",
			EventTime:    time.Now().UTC(),
			EventName:    EventObjectCreated,
			S3: Entity{
				Bucket: BucketEntity{Name: object.Bucket},
				Object: ObjectEntity{
					Key:  EncodeKey(object.Key),
					Size: object.Size,
					ETag: object.Checksum,
				},
			},
		}},
	}
}

// Parse decodes an event from a message body.
func Parse(body string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return event, errors.Wrap(err, "could not parse event")
	}
	return event, nil
}

// String returns the JSON encoding of the event.
func (e Event) String() string {
	payload, _ := json.Marshal(e)
	return string(payload)
}

// Key returns the decoded object key of the record.
func (r Record) Key() (string, error) {
	key, err := DecodeKey(r.S3.Object.Key)
	return key, errors.Wrap(err, "invalid object key")
}

// EncodeKey URL-encodes every segment of the key.
func EncodeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.QueryEscape(segment)
	}
	return strings.Join(segments, "/")
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(key string) (string, error) {
	return url.QueryUnescape(key)
}
