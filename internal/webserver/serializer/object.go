package serializer

import (
	"github.com/mdouchement/rekbox/internal/model"
)

// Objects returns the serialized form of the given models.
func Objects(objects []*model.Object) []map[string]interface{} {
	sl := make([]map[string]interface{}, 0, len(objects))

	for _, object := range objects {
		sl = append(sl, Object(object))
	}

	return sl
}

// Object returns the serialized form of the given model.
func Object(object *model.Object) map[string]interface{} {
	return map[string]interface{}{
		"bucket":        object.Bucket,
		"key":           object.Key,
		"content_type":  object.ContentType,
		"bytes":         object.Size,
		"last_modified": object.UpdatedAt,
		"hash":          object.Checksum,
	}
}
