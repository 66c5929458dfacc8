package serializer

import (
	"github.com/mdouchement/rekbox/internal/model"
)

// Labels returns the serialized form of the given models.
func Labels(labels []*model.Label) []map[string]interface{} {
	sl := make([]map[string]interface{}, 0, len(labels))

	for _, label := range labels {
		sl = append(sl, Label(label))
	}

	return sl
}

// Label returns the serialized form of the given model.
func Label(label *model.Label) map[string]interface{} {
	labels := make([]map[string]interface{}, 0, len(label.Labels))
	for _, l := range label.Labels {
		labels = append(labels, map[string]interface{}{
			"name":       l.Name,
			"confidence": l.Confidence,
		})
	}

	return map[string]interface{}{
		"image":         label.Image,
		"key":           label.Source,
		"thumbnail":     label.Thumbnail,
		"labels":        labels,
		"last_modified": label.UpdatedAt,
	}
}
