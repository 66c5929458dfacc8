package worker

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/detector"
	"github.com/mdouchement/rekbox/internal/labelstore"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/notification"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/queue"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *fakeDetector) Name() string {
	return "fake"
}

func (d *fakeDetector) DetectLabels(_ context.Context, _ []byte) ([]model.DetectedLabel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return []model.DetectedLabel{{Name: "Cat", Confidence: 99}}, nil
}

func (d *fakeDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fixture struct {
	log      logger.Logger
	db       database.Client
	storage  storage.Backend
	labels   labelstore.Store
	detector *fakeDetector
	worker   *Worker
	uploader policy.Principal
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := database.StormOpen(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		log:      logger.WrapLogrus(log),
		db:       db,
		storage:  storage.NewFileSystem(t.TempDir()),
		labels:   labelstore.NewDatabase(db),
		detector: &fakeDetector{},
		uploader: policy.NewRole("uploader", policy.GrantPut("images")).Assume(""),
	}

	f.worker = New(Controller{
		Logger:   f.log,
		Database: f.db,
		Storage:  f.storage,
		Labels:   f.labels,
		Detector: f.detector,
		Role: policy.NewRole("detection-worker",
			policy.GrantRead("images"),
			policy.GrantPut("resized"),
			policy.GrantWriteData("ImageLabels"),
			policy.Allow([]policy.Action{policy.DetectLabels}, "*"),
		),
		Table:         "ImageLabels",
		ImageBucket:   "images",
		ResizedBucket: "resized",
		ThumbnailSize: 16,
	})
	return f
}

func (f *fixture) upload(t *testing.T, key string, data []byte) *model.Object {
	object := &model.Object{Bucket: "images", Key: key}
	require.NoError(t, service.NewObjectUploader(f.db, f.storage, f.uploader, object).Upload(context.Background(), bytes.NewReader(data)))
	return object
}

func pngImage(t *testing.T) []byte {
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 64, 32))))
	return buf.Bytes()
}

func TestWorker_Process(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	object := f.upload(t, "private/alice/cat.png", pngImage(t))
	event := notification.ObjectCreated(object)

	require.NoError(t, f.worker.Process(ctx, event))
	// Redelivery of the same event keeps one label record.
	require.NoError(t, f.worker.Process(ctx, event))

	labels, err := f.labels.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "alice/cat.png", labels[0].Image)
	assert.Equal(t, "private/alice/cat.png", labels[0].Source)
	assert.Equal(t, "private/alice/cat.png", labels[0].Thumbnail)
	assert.Equal(t, []string{"Cat"}, labels[0].Names())

	r, err := f.storage.Reader(ctx, "resized", "private/alice/cat.png")
	require.NoError(t, err)
	defer r.Close()
	cfg, format, err := image.DecodeConfig(r)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
}

func TestWorker_ProcessWithoutThumbnail(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	object := f.upload(t, "private/alice/raw.bin", []byte("not decodable"))
	require.NoError(t, f.worker.Process(ctx, notification.ObjectCreated(object)))

	label, err := f.labels.Get(ctx, "alice/raw.bin")
	require.NoError(t, err)
	assert.Empty(t, label.Thumbnail)
}

func TestWorker_MissingObject(t *testing.T) {
	f := setup(t)

	err := f.worker.Process(context.Background(), notification.ObjectCreated(&model.Object{Bucket: "images", Key: "private/alice/gone.png"}))
	assert.True(t, detector.IsPermanent(err))
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.Equal(t, 0, f.detector.Calls())
}

func TestWorker_UnexpectedBucket(t *testing.T) {
	f := setup(t)

	err := f.worker.Process(context.Background(), notification.ObjectCreated(&model.Object{Bucket: "resized", Key: "private/alice/cat.png"}))
	assert.True(t, detector.IsPermanent(err))
}

func TestInvoker(t *testing.T) {
	f := setup(t)
	object := f.upload(t, "private/alice/cat.png", pngImage(t))

	handler := Invoker(f.worker, time.Second)
	require.NoError(t, handler(context.Background(), notification.ObjectCreated(object)))

	_, err := f.labels.Get(context.Background(), "alice/cat.png")
	assert.NoError(t, err)
}

//
// Consumer
//

func (f *fixture) queues() (*queue.StormQueue, *queue.StormQueue) {
	broker := queue.NewBroker(f.db, f.log)
	primary := broker.Queue(queue.Options{
		Name:              "ImageQueue",
		VisibilityTimeout: 100 * time.Millisecond,
		WaitTime:          20 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		Redrive: &queue.RedrivePolicy{
			DeadLetterQueue: "ImageDLQueue",
			MaxReceiveCount: 2,
		},
	})
	dlq := broker.Queue(queue.Options{Name: "ImageDLQueue"})
	return primary, dlq
}

func (f *fixture) consume(t *testing.T, q queue.Queue) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := NewConsumer(f.worker, q, ConsumerOptions{Concurrency: 2, Timeout: time.Second, Backoff: 10 * time.Millisecond}, f.log)

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	return func() {
		cancel()
		<-done
	}
}

func TestConsumer_Success(t *testing.T) {
	f := setup(t)
	primary, dlq := f.queues()
	ctx := context.Background()

	dispatcher := notification.NewDispatcher(f.log, notification.Rule{Bucket: "images", Prefix: "private/", Target: notification.Queue(primary)})
	object := &model.Object{Bucket: "images", Key: "private/alice/cat.png"}
	err := service.NewObjectUploader(f.db, f.storage, f.uploader, object).WithNotifier(dispatcher).Upload(ctx, bytes.NewReader(pngImage(t)))
	require.NoError(t, err)

	stop := f.consume(t, primary)
	defer stop()

	require.Eventually(t, func() bool {
		_, err := f.labels.Get(ctx, "alice/cat.png")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		messages, err := primary.Messages(ctx)
		return err == nil && len(messages) == 0
	}, 5*time.Second, 10*time.Millisecond)

	dead, err := dlq.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestConsumer_TransientFailureIsDeadLetteredAfterMaxReceiveCount(t *testing.T) {
	f := setup(t)
	f.detector.err = assert.AnError
	primary, dlq := f.queues()
	ctx := context.Background()

	object := f.upload(t, "private/alice/cat.png", pngImage(t))
	_, err := primary.Send(ctx, notification.ObjectCreated(object).String())
	require.NoError(t, err)

	stop := f.consume(t, primary)
	defer stop()

	require.Eventually(t, func() bool {
		messages, err := dlq.Messages(ctx)
		return err == nil && len(messages) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Detected twice then moved, never redelivered.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, f.detector.Calls())

	dead, err := dlq.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, queue.ReasonMaxReceiveCount, dead[0].Reason)

	_, err = f.labels.Get(ctx, "alice/cat.png")
	assert.True(t, labelstore.IsNotFound(err))
}

func TestConsumer_PermanentFailureIsDeadLetteredAtOnce(t *testing.T) {
	f := setup(t)
	primary, dlq := f.queues()
	ctx := context.Background()

	_, err := primary.Send(ctx, notification.ObjectCreated(&model.Object{Bucket: "images", Key: "private/alice/gone.png"}).String())
	require.NoError(t, err)
	_, err = primary.Send(ctx, "{not json")
	require.NoError(t, err)

	stop := f.consume(t, primary)
	defer stop()

	require.Eventually(t, func() bool {
		messages, err := dlq.Messages(ctx)
		return err == nil && len(messages) == 2
	}, 5*time.Second, 10*time.Millisecond)

	dead, err := dlq.Messages(ctx)
	require.NoError(t, err)
	for _, m := range dead {
		assert.Equal(t, 1, m.ReceiveCount)
		assert.False(t, strings.HasPrefix(m.Reason, queue.ReasonMaxReceiveCount))
	}
}
