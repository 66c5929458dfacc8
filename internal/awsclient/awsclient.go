// Package awsclient loads the AWS configurations used by the managed backends.
package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/mdouchement/rekbox/internal/config"
	"github.com/pkg/errors"
)

// Load returns the AWS configuration of the given service.
// A non empty endpoint overrides the service endpoint (e.g. a local emulator).
func Load(ctx context.Context, c config.AWS, serviceID, endpoint string) (aws.Config, error) {
	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
	}

	if c.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")
		options = append(options, awsconfig.WithCredentialsProvider(creds))
	}

	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...any) (aws.Endpoint, error) {
				if service != serviceID {
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		options = append(options, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	return cfg, errors.Wrapf(err, "could not load %s configuration", serviceID)
}

// S3 returns a new S3 client.
func S3(ctx context.Context, c config.AWS, endpoint string) (*s3.Client, error) {
	cfg, err := Load(ctx, c, s3.ServiceID, endpoint)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(options *s3.Options) {
		options.UsePathStyle = endpoint != ""
	}), nil
}

// DynamoDB returns a new DynamoDB client.
func DynamoDB(ctx context.Context, c config.AWS, endpoint string) (*dynamodb.Client, error) {
	cfg, err := Load(ctx, c, dynamodb.ServiceID, endpoint)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// SQS returns a new SQS client.
func SQS(ctx context.Context, c config.AWS, endpoint string) (*sqs.Client, error) {
	cfg, err := Load(ctx, c, sqs.ServiceID, endpoint)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// Rekognition returns a new Rekognition client.
func Rekognition(ctx context.Context, c config.AWS, endpoint string) (*rekognition.Client, error) {
	cfg, err := Load(ctx, c, rekognition.ServiceID, endpoint)
	if err != nil {
		return nil, err
	}
	return rekognition.NewFromConfig(cfg), nil
}
