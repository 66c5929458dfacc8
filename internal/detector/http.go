package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

type (
	httpDetector struct {
		client        *http.Client
		url           string
		maxLabels     int
		minConfidence float64
	}

	// HTTPResponse is the payload returned by an HTTP detection endpoint.
	HTTPResponse struct {
		Labels []model.DetectedLabel `json:"labels"`
	}
)

// NewHTTP returns a Detector posting the images to url.
// Server errors and network failures are transient, client errors are permanent.
func NewHTTP(client *http.Client, url string, maxLabels int, minConfidence float64) Detector {
	if client == nil {
		client = http.DefaultClient
	}

	return &httpDetector{
		client:        client,
		url:           url,
		maxLabels:     maxLabels,
		minConfidence: minConfidence,
	}
}

func (d *httpDetector) Name() string {
	return "http"
}

func (d *httpDetector) DetectLabels(ctx context.Context, image []byte) ([]model.DetectedLabel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(image))
	if err != nil {
		return nil, Permanent(errors.Wrap(err, "http detector"))
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http detector")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, errors.Errorf("http detector: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, Permanent(errors.Errorf("http detector: %s: %s", resp.Status, bytes.TrimSpace(body)))
	}

	var payload HTTPResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, Permanent(errors.Wrap(err, "http detector: invalid response"))
	}

	return Filter(payload.Labels, d.maxLabels, d.minConfidence), nil
}
