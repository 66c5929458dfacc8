package main

import (
	"context"
	"net/http"
	"regexp"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/awsclient"
	"github.com/mdouchement/rekbox/internal/config"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/detector"
	"github.com/mdouchement/rekbox/internal/identity"
	"github.com/mdouchement/rekbox/internal/labelstore"
	"github.com/mdouchement/rekbox/internal/queue"
	"github.com/mdouchement/rekbox/internal/scheduler"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/mdouchement/rekbox/internal/topology"
	"github.com/mdouchement/rekbox/internal/worker"
	"github.com/minio/minio-go/v7"
	miniocredentials "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ncw/swift/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const dbname = "rekbox.db"

// An app holds the components shared by the commands.
type app struct {
	config  *config.Config
	logger  logger.Logger
	db      database.Client
	storage storage.Backend
	stack   *topology.Stack
	broker  *queue.Broker
}

func newLogger(level string) (logger.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logger.LogrusTextFormatter{
		DisableColors:   false,
		ForceColors:     true,
		ForceFormatting: true,
		PrefixRE:        regexp.MustCompile(`^(\[.*?\])\s`),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid LOG_LEVEL")
	}
	log.SetLevel(lvl)

	return logger.WrapLogrus(log), nil
}

func boot(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &app{
		config: cfg,
		stack:  topology.New(cfg),
	}

	a.logger, err = newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a.db, err = database.StormOpen(cfg.DatabaseFile(dbname))
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}
	a.broker = queue.NewBroker(a.db, a.logger)

	a.storage, err = a.newStorage(ctx)
	if err != nil {
		a.db.Close()
		return nil, err
	}

	a.logger.Infof("Storage backend: %s", a.storage.Name())
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

//
// Storage
//

func (a *app) newStorage(ctx context.Context) (storage.Backend, error) {
	c := a.config

	switch c.Storage.Backend {
	case "filesystem":
		return storage.NewFileSystem(c.Storage.Path), nil
	case "s3":
		client, err := awsclient.S3(ctx, c.AWS, c.S3.Endpoint)
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, ""), nil
	case "minio":
		client, err := minio.New(c.Minio.Endpoint, &minio.Options{
			Creds:  miniocredentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
			Secure: c.Minio.Secure,
		})
		if err != nil {
			return nil, errors.Wrap(err, "could not create minio client")
		}
		return storage.NewMinio(client, ""), nil
	case "swift":
		conn := &swift.Connection{
			UserName: c.Swift.Username,
			ApiKey:   c.Swift.APIKey,
			AuthUrl:  c.Swift.AuthURL,
			Domain:   c.Swift.Domain,
			Tenant:   c.Swift.Tenant,
			Region:   c.Swift.Region,
		}
		if err := conn.Authenticate(ctx); err != nil {
			return nil, errors.Wrap(err, "could not authenticate to swift")
		}
		return storage.NewSwift(conn, ""), nil
	}

	return nil, errors.Errorf("unsupported storage backend %s", c.Storage.Backend)
}

//
// Label store
//

func (a *app) newLabelStore(ctx context.Context) (labelstore.Store, error) {
	c := a.config

	switch c.LabelStore.Backend {
	case "database":
		return labelstore.NewDatabase(a.db), nil
	case "dynamodb":
		client, err := awsclient.DynamoDB(ctx, c.AWS, c.LabelStore.DynamoDBEndpoint)
		if err != nil {
			return nil, err
		}
		return labelstore.NewDynamoDB(client, c.Table), nil
	case "sql":
		return labelstore.OpenSQL(c.DatabaseFile(c.LabelStore.DSN), c.Table)
	}

	return nil, errors.Errorf("unsupported label store backend %s", c.LabelStore.Backend)
}

//
// Queues
//

// newQueue returns the image queue and the purgers of the queues persisted in the database.
func (a *app) newQueue(ctx context.Context) (queue.Queue, []scheduler.Purger, error) {
	c := a.config

	switch c.Queue.Backend {
	case "database":
		var primary queue.Queue
		var purgers []scheduler.Purger

		for _, declared := range a.stack.Queues {
			q := a.stormQueue(declared)
			purgers = append(purgers, q)
			if declared.Name == c.Queue.Name {
				primary = q
			}
		}
		return primary, purgers, nil
	case "sqs":
		client, err := awsclient.SQS(ctx, c.AWS, c.Queue.SQSEndpoint)
		if err != nil {
			return nil, nil, err
		}

		return queue.NewSQS(client, queue.SQSOptions{
			Name:          c.Queue.Name,
			URL:           c.Queue.SQSURL,
			WaitTime:      c.Queue.WaitTime,
			DeadLetterURL: c.Queue.SQSDeadLetterURL,
		}), nil, nil
	}

	return nil, nil, errors.Errorf("unsupported queue backend %s", c.Queue.Backend)
}

func (a *app) stormQueue(declared topology.Queue) *queue.StormQueue {
	o := queue.Options{
		Name:              declared.Name,
		VisibilityTimeout: declared.VisibilityTimeout,
		WaitTime:          declared.WaitTime,
		Retention:         declared.Retention,
	}
	if declared.DeadLetterQueue != "" {
		o.Redrive = &queue.RedrivePolicy{
			DeadLetterQueue: declared.DeadLetterQueue,
			MaxReceiveCount: declared.MaxReceiveCount,
		}
	}
	return a.broker.Queue(o)
}

// deadLetterQueue returns the primary queue and its dead-letter queue persisted in the database.
func (a *app) deadLetterQueue() (*queue.StormQueue, *queue.StormQueue, error) {
	if a.config.Queue.Backend != "database" {
		return nil, nil, errors.Errorf("dead-letter queue commands require the database queue backend, %s manages its own", a.config.Queue.Backend)
	}

	var primary, dlq *queue.StormQueue
	for _, declared := range a.stack.Queues {
		switch declared.Name {
		case a.config.Queue.Name:
			primary = a.stormQueue(declared)
		case a.config.Queue.DeadLetterName:
			dlq = a.stormQueue(declared)
		}
	}
	return primary, dlq, nil
}

//
// Detection
//

func (a *app) newDetector(ctx context.Context) (detector.Detector, error) {
	c := a.config

	switch c.Detector.Backend {
	case "rekognition":
		client, err := awsclient.Rekognition(ctx, c.AWS, c.Detector.Endpoint)
		if err != nil {
			return nil, err
		}
		return detector.NewRekognition(client, c.Detector.MaxLabels, c.Detector.MinConfidence), nil
	case "http":
		client := &http.Client{Timeout: c.Detector.Timeout}
		return detector.NewHTTP(client, c.Detector.URL, c.Detector.MaxLabels, c.Detector.MinConfidence), nil
	case "mqtt":
		client, err := detector.DialMQTT(c.MQTT.Broker, c.MQTT.Username, c.MQTT.Password)
		if err != nil {
			return nil, err
		}
		return detector.NewMQTT(client, detector.MQTTOptions{
			Topic:         c.MQTT.Topic,
			Timeout:       c.Detector.Timeout,
			MaxLabels:     c.Detector.MaxLabels,
			MinConfidence: c.Detector.MinConfidence,
		}, a.logger)
	}

	return nil, errors.Errorf("unsupported detector backend %s", c.Detector.Backend)
}

func (a *app) newWorker(ctx context.Context, labels labelstore.Store) (*worker.Worker, error) {
	d, err := a.newDetector(ctx)
	if err != nil {
		return nil, err
	}

	a.logger.Infof("Detector backend: %s", d.Name())
	return worker.New(worker.Controller{
		Logger:        a.logger,
		Database:      a.db,
		Storage:       a.storage,
		Labels:        labels,
		Detector:      d,
		Role:          a.stack.Role(topology.DetectionWorkerRole),
		Table:         a.config.Table,
		ImageBucket:   a.config.Bucket,
		ResizedBucket: a.config.ResizedBucket,
		ThumbnailSize: a.config.Worker.ThumbnailSize,
	}), nil
}

func (a *app) newConsumer(w worker.Processor, q queue.Queue) *worker.Consumer {
	return worker.NewConsumer(w, q, worker.ConsumerOptions{
		Concurrency: a.config.Worker.Concurrency,
		BatchSize:   a.config.Worker.BatchSize,
		Timeout:     a.config.Worker.Timeout,
	}, a.logger)
}

//
// Identity
//

// newIdentity returns the token verifier and the built-in user pool when it is the provider.
func (a *app) newIdentity(ctx context.Context) (identity.Verifier, *identity.Pool, error) {
	c := a.config

	switch c.Auth.Provider {
	case "pool":
		pool, err := identity.NewPool(identity.PoolOptions{
			Database: a.db,
			Logger:   a.logger,
			Secret:   []byte(c.Auth.Secret),
			Issuer:   c.StackName,
			TokenTTL: c.Auth.TokenTTL,
			CodeTTL:  c.Auth.CodeTTL,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "AUTH_SECRET")
		}
		return pool, pool, nil
	case "oidc":
		verifier, err := identity.NewOIDCVerifier(ctx, c.OIDC.Issuer, c.OIDC.ClientID)
		if err != nil {
			return nil, nil, err
		}
		return verifier, nil, nil
	}

	return nil, nil, errors.Errorf("unsupported auth provider %s", c.Auth.Provider)
}
