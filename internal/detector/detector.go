// Package detector provides the label detection capabilities used by the detection worker.
package detector

import (
	"context"
	"sort"

	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

// A Detector detects the labels of an image.
type Detector interface {
	Name() string
	DetectLabels(ctx context.Context, image []byte) ([]model.DetectedLabel, error)
}

type permanent struct {
	err error
}

func (e *permanent) Error() string {
	return e.err.Error()
}

func (e *permanent) Unwrap() error {
	return e.err
}

func (e *permanent) Cause() error {
	return e.err
}

// Permanent marks err as a failure that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsPermanent returns true if err, or one of the errors it wraps, has been marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

// Filter returns the labels having at least minConfidence, sorted by decreasing confidence
// and truncated to max labels when max is positive.
func Filter(labels []model.DetectedLabel, max int, minConfidence float64) []model.DetectedLabel {
	result := make([]model.DetectedLabel, 0, len(labels))
	for _, label := range labels {
		if label.Confidence >= minConfidence {
			result = append(result, label)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Confidence > result[j].Confidence
	})

	if max > 0 && len(result) > max {
		result = result[:max]
	}
	return result
}
