package model

// A Label is the detection result for one image.
// Image is the partition key: the image storage key without the private/ prefix.
type Label struct {
	Base `json:",inline" storm:"inline"`

	Image     string          `json:"image"     storm:"unique"`
	Source    string          `json:"source"`
	Thumbnail string          `json:"thumbnail"`
	Labels    []DetectedLabel `json:"labels"`
}

// A DetectedLabel is one label returned by a detector.
type DetectedLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Names returns the label names.
func (l *Label) Names() []string {
	names := make([]string, 0, len(l.Labels))
	for _, label := range l.Labels {
		names = append(names, label.Name)
	}
	return names
}
