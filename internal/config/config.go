package config

import (
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

type (
	// Config is the whole configuration of the box, read from the environment.
	Config struct {
		LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`
		DatabasePath string `env:"DATABASE_PATH"`
		StackName    string `env:"STACK_NAME"    envDefault:"rekbox"`

		// Environment contract of the compute units.
		Table         string `env:"TABLE"         envDefault:"ImageLabels"`
		Bucket        string `env:"BUCKET"        envDefault:"cdk-rek-imagebucket"`
		ResizedBucket string `env:"RESIZEDBUCKET" envDefault:"cdk-rek-imagebucket-resized"`
		WebsiteBucket string `env:"WEBSITEBUCKET" envDefault:"cdk-rekn-publicbucket"`

		Storage    Storage    `envPrefix:"STORAGE_"`
		S3         S3         `envPrefix:"S3_"`
		Minio      Minio      `envPrefix:"MINIO_"`
		Swift      Swift      `envPrefix:"SWIFT_"`
		AWS        AWS        `envPrefix:"AWS_"`
		LabelStore LabelStore `envPrefix:"LABELSTORE_"`
		Queue      Queue      `envPrefix:"QUEUE_"`
		Detector   Detector   `envPrefix:"DETECTOR_"`
		MQTT       MQTT       `envPrefix:"MQTT_"`
		Worker     Worker     `envPrefix:"WORKER_"`
		Auth       Auth       `envPrefix:"AUTH_"`
		OIDC       OIDC       `envPrefix:"OIDC_"`
		Site       Site       `envPrefix:"SITE_"`
		Scheduler  Scheduler  `envPrefix:"SCHEDULER_"`
	}

	// Storage selects the blob backend.
	Storage struct {
		Backend string `env:"BACKEND" envDefault:"filesystem"`
		Path    string `env:"PATH"    envDefault:"storage"`
	}

	// S3 configures the Amazon S3 backend.
	S3 struct {
		Endpoint  string `env:"ENDPOINT"`
		AccessKey string `env:"ACCESS_KEY"`
		SecretKey string `env:"SECRET_KEY"`
	}

	// Minio configures the S3-compatible backend.
	Minio struct {
		Endpoint  string `env:"ENDPOINT"   envDefault:"localhost:9000"`
		AccessKey string `env:"ACCESS_KEY"`
		SecretKey string `env:"SECRET_KEY"`
		Secure    bool   `env:"SECURE"     envDefault:"false"`
	}

	// Swift configures the OpenStack Swift backend.
	Swift struct {
		AuthURL  string `env:"AUTH_URL"`
		Username string `env:"USERNAME"`
		APIKey   string `env:"API_KEY"`
		Tenant   string `env:"TENANT"`
		Domain   string `env:"DOMAIN"   envDefault:"Default"`
		Region   string `env:"REGION"   envDefault:"RegionOne"`
	}

	// AWS holds the settings shared by all the AWS clients.
	AWS struct {
		Region    string `env:"REGION"            envDefault:"us-east-1"`
		AccessKey string `env:"ACCESS_KEY_ID"`
		SecretKey string `env:"SECRET_ACCESS_KEY"`
	}

	// LabelStore selects the label table backend.
	LabelStore struct {
		Backend          string `env:"BACKEND"           envDefault:"database"`
		DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`
		DSN              string `env:"DSN"               envDefault:"labels.sqlite"`
	}

	// Queue configures the image queue and its dead-letter queue.
	Queue struct {
		// Backend is database, sqs or none (direct invocation, no retry).
		Backend           string        `env:"BACKEND"            envDefault:"database"`
		Name              string        `env:"NAME"               envDefault:"ImageQueue"`
		DeadLetterName    string        `env:"DEAD_LETTER_NAME"   envDefault:"ImageDLQueue"`
		VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"30s"`
		WaitTime          time.Duration `env:"WAIT_TIME"          envDefault:"20s"`
		MaxReceiveCount   int           `env:"MAX_RECEIVE_COUNT"  envDefault:"2"`
		Retention         time.Duration `env:"RETENTION"          envDefault:"96h"`
		SQSURL            string        `env:"SQS_URL"`
		SQSDeadLetterURL  string        `env:"SQS_DEAD_LETTER_URL"`
		SQSEndpoint       string        `env:"SQS_ENDPOINT"`
	}

	// Detector selects the label detection capability.
	Detector struct {
		Backend       string        `env:"BACKEND"        envDefault:"rekognition"`
		Endpoint      string        `env:"ENDPOINT"`
		URL           string        `env:"URL"            envDefault:"http://localhost:9090/detect"`
		MaxLabels     int           `env:"MAX_LABELS"     envDefault:"10"`
		MinConfidence float64       `env:"MIN_CONFIDENCE" envDefault:"70"`
		Timeout       time.Duration `env:"TIMEOUT"        envDefault:"20s"`
	}

	// MQTT configures the MQTT RPC detector.
	MQTT struct {
		Broker   string `env:"BROKER"   envDefault:"tcp://localhost:1883"`
		Username string `env:"USERNAME"`
		Password string `env:"PASSWORD"`
		Topic    string `env:"TOPIC"    envDefault:"rekbox/rpc/detectLabels"`
	}

	// Worker configures the detection worker.
	Worker struct {
		Timeout       time.Duration `env:"TIMEOUT"        envDefault:"30s"`
		Concurrency   int           `env:"CONCURRENCY"    envDefault:"4"`
		BatchSize     int           `env:"BATCH_SIZE"     envDefault:"10"`
		ThumbnailSize int           `env:"THUMBNAIL_SIZE" envDefault:"200"`
	}

	// Auth configures the identity layer.
	Auth struct {
		// Provider is pool (built-in user pool) or oidc (external issuer).
		Provider string        `env:"PROVIDER"  envDefault:"pool"`
		Secret   string        `env:"SECRET"`
		TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
		CodeTTL  time.Duration `env:"CODE_TTL"  envDefault:"24h"`
	}

	// OIDC configures the external identity provider.
	OIDC struct {
		Issuer   string `env:"ISSUER"`
		ClientID string `env:"CLIENT_ID"`
	}

	// Site configures the static website.
	Site struct {
		// AllowedCIDRs is the source IP allow-list, empty denies everything.
		AllowedCIDRs []string `env:"ALLOWED_CIDRS" envSeparator:","`
	}

	// Scheduler configures the housekeeping tasks.
	Scheduler struct {
		Specification   string        `env:"SPECIFICATION"    envDefault:"@every 30s"`
		PendingIdentity time.Duration `env:"PENDING_IDENTITY" envDefault:"168h"`
	}
)

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, errors.Wrap(err, "could not read configuration")
	}
	return c, c.Validate()
}

// Validate checks the consistency of the configuration.
func (c *Config) Validate() error {
	if c.Bucket == "" || c.ResizedBucket == "" || c.Table == "" {
		return errors.New("TABLE, BUCKET and RESIZEDBUCKET are required")
	}
	if c.Bucket == c.ResizedBucket {
		return errors.New("BUCKET and RESIZEDBUCKET must differ")
	}
	if c.Queue.Name == c.Queue.DeadLetterName {
		return errors.New("QUEUE_NAME and QUEUE_DEAD_LETTER_NAME must differ")
	}
	if c.Queue.MaxReceiveCount < 1 {
		return errors.New("QUEUE_MAX_RECEIVE_COUNT must be greater than 0")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("WORKER_CONCURRENCY must be greater than 0")
	}
	if _, err := cron.ParseStandard(c.Scheduler.Specification); err != nil {
		return errors.Wrap(err, "invalid SCHEDULER_SPECIFICATION")
	}
	if c.Auth.Provider == "oidc" && (c.OIDC.Issuer == "" || c.OIDC.ClientID == "") {
		return errors.New("OIDC_ISSUER and OIDC_CLIENT_ID are required by the oidc provider")
	}
	return nil
}

// DatabaseFile returns the path of the given database file according to DATABASE_PATH.
func (c *Config) DatabaseFile(name string) string {
	if len(c.DatabasePath) == 0 {
		return name
	}
	return filepath.Join(c.DatabasePath, name)
}
