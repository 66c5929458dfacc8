package detector

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

// RekognitionAPI is the subset of the Rekognition client used by the detector.
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

var _ RekognitionAPI = (*rekognition.Client)(nil)

type rekog struct {
	client        RekognitionAPI
	maxLabels     int
	minConfidence float64
}

// NewRekognition returns a Detector backed by Amazon Rekognition.
func NewRekognition(client RekognitionAPI, maxLabels int, minConfidence float64) Detector {
	return &rekog{
		client:        client,
		maxLabels:     maxLabels,
		minConfidence: minConfidence,
	}
}

func (d *rekog) Name() string {
	return "rekognition"
}

func (d *rekog) DetectLabels(ctx context.Context, image []byte) ([]model.DetectedLabel, error) {
	out, err := d.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MaxLabels:     aws.Int32(int32(d.maxLabels)),
		MinConfidence: aws.Float32(float32(d.minConfidence)),
	})
	if err != nil {
		return nil, classify(err)
	}

	labels := make([]model.DetectedLabel, 0, len(out.Labels))
	for _, label := range out.Labels {
		labels = append(labels, model.DetectedLabel{
			Name:       aws.ToString(label.Name),
			Confidence: float64(aws.ToFloat32(label.Confidence)),
		})
	}
	return Filter(labels, d.maxLabels, d.minConfidence), nil
}

func classify(err error) error {
	var (
		format    *types.InvalidImageFormatException
		tooLarge  *types.ImageTooLargeException
		parameter *types.InvalidParameterException
		denied    *types.AccessDeniedException
	)

	switch {
	case errors.As(err, &format), errors.As(err, &tooLarge), errors.As(err, &parameter), errors.As(err, &denied):
		return Permanent(errors.Wrap(err, "rekognition"))
	default:
		return errors.Wrap(err, "rekognition")
	}
}
