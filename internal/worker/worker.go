// Package worker implements the detection worker: it reads the new images, detects their labels,
// writes their thumbnails and persists the label records.
package worker

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/detector"
	"github.com/mdouchement/rekbox/internal/labelstore"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/notification"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/mdouchement/rekbox/internal/thumbnail"
	"github.com/mdouchement/rekbox/internal/xpath"
	"github.com/pkg/errors"
)

// ErrObjectNotFound is returned when the notified image no longer exists.
var ErrObjectNotFound = errors.New("image object not found")

type (
	// A Processor processes object notifications.
	Processor interface {
		Process(ctx context.Context, event notification.Event) error
	}

	// A Controller is an Inversion Of Control pattern used to init the worker.
	Controller struct {
		Logger        logger.Logger
		Database      database.Client
		Storage       storage.Backend
		Labels        labelstore.Store
		Detector      detector.Detector
		Role          *policy.Role
		Table         string
		ImageBucket   string
		ResizedBucket string
		ThumbnailSize int
	}

	// A Worker is the detection compute unit.
	Worker struct {
		log           logger.Logger
		database      database.Client
		storage       storage.Backend
		labels        labelstore.Store
		detector      detector.Detector
		principal     policy.Principal
		imageBucket   string
		resizedBucket string
		thumbnailSize int
	}
)

// New returns a new Worker acting with the controller's role.
func New(c Controller) *Worker {
	principal := c.Role.Assume("")

	return &Worker{
		log:           c.Logger.WithPrefix("[worker]"),
		database:      c.Database,
		storage:       c.Storage,
		labels:        labelstore.NewGuard(c.Labels, principal, c.Table),
		detector:      c.Detector,
		principal:     principal,
		imageBucket:   c.ImageBucket,
		resizedBucket: c.ResizedBucket,
		thumbnailSize: c.ThumbnailSize,
	}
}

// Process handles all the records of the event.
// The returned error is marked permanent when retrying the event cannot succeed.
func (w *Worker) Process(ctx context.Context, event notification.Event) error {
	if len(event.Records) == 0 {
		return detector.Permanent(errors.New("event without records"))
	}

	for _, record := range event.Records {
		if err := w.process(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) process(ctx context.Context, record notification.Record) error {
	if !strings.HasPrefix(record.EventName, "ObjectCreated") {
		w.log.Infof("Skipping %s event", record.EventName)
		return nil
	}

	key, err := record.Key()
	if err != nil {
		return detector.Permanent(err)
	}

	if record.S3.Bucket.Name != w.imageBucket {
		return detector.Permanent(errors.Errorf("unexpected bucket %s", record.S3.Bucket.Name))
	}

	if err = w.principal.Authorize(policy.DetectLabels, "*"); err != nil {
		return detector.Permanent(err)
	}

	//

	data, err := service.ReadAll(ctx, service.NewObjectDownloader(w.database, w.storage, w.principal, w.imageBucket, key))
	switch {
	case storage.IsNotFound(err):
		return detector.Permanent(errors.Wrap(ErrObjectNotFound, key))
	case policy.IsAccessDenied(err):
		return detector.Permanent(err)
	case err != nil:
		return errors.Wrap(err, "could not read image")
	}

	start := time.Now()
	labels, err := w.detector.DetectLabels(ctx, data)
	if err != nil {
		return errors.Wrapf(err, "could not detect labels of %s", key)
	}
	w.log.Infof("%s: %d labels detected by %s in %s", key, len(labels), w.detector.Name(), time.Since(start))

	//

	label := &model.Label{
		Image:  xpath.ImageID(key),
		Source: key,
		Labels: labels,
	}

	label.Thumbnail, err = w.thumbnail(ctx, key, data)
	if err != nil {
		return err
	}

	err = w.labels.Put(ctx, label)
	if policy.IsAccessDenied(err) {
		return detector.Permanent(err)
	}
	return errors.Wrap(err, "could not persist labels")
}

func (w *Worker) thumbnail(ctx context.Context, key string, data []byte) (string, error) {
	thumb, err := thumbnail.Make(data, w.thumbnailSize)
	if errors.Is(err, thumbnail.ErrUnsupported) {
		w.log.Infof("%s: no thumbnail: %s", key, err)
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "could not make thumbnail")
	}

	object := &model.Object{
		Bucket:      w.resizedBucket,
		Key:         xpath.ResizedKey(key),
		ContentType: thumb.ContentType,
	}

	err = service.NewObjectUploader(w.database, w.storage, w.principal, object).Upload(ctx, bytes.NewReader(thumb.Data))
	if policy.IsAccessDenied(err) {
		return "", detector.Permanent(err)
	}
	if err != nil {
		return "", errors.Wrap(err, "could not write thumbnail")
	}
	return object.Key, nil
}

// Invoker returns a notification handler processing the events once, bounded by timeout.
// It serves the direct notification path which has no retry.
func Invoker(p Processor, timeout time.Duration) notification.Handler {
	return func(ctx context.Context, event notification.Event) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return p.Process(ctx, event)
	}
}
