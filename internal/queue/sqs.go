package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
)

// SQSAPI is the subset of the SQS client used by the queue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// SQSOptions configures an SQS queue.
type SQSOptions struct {
	Name     string
	URL      string
	WaitTime time.Duration
	// DeadLetterURL enables DeadLetter, the redrive policy itself is configured on the SQS side.
	DeadLetterURL string
}

// An SQS is a Queue backed by Amazon SQS.
type SQS struct {
	client  SQSAPI
	options SQSOptions
}

// NewSQS returns a new SQS.
func NewSQS(client SQSAPI, o SQSOptions) *SQS {
	return &SQS{
		client:  client,
		options: o,
	}
}

// Name implements Queue.
func (q *SQS) Name() string {
	return q.options.Name
}

// Send implements Queue.
func (q *SQS) Send(ctx context.Context, body string) (string, error) {
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.options.URL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", errors.Wrap(err, "could not send message")
	}
	return aws.ToString(out.MessageId), nil
}

// Receive implements Queue.
func (q *SQS) Receive(ctx context.Context, max int) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10
	}

	wait := int32(q.options.WaitTime / time.Second)
	if wait > 20 {
		wait = 20
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.options.URL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     wait,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not receive messages")
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		message := Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}

		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			message.ReceiveCount, _ = strconv.Atoi(v)
		}
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]; ok {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				message.SentAt = time.UnixMilli(ms).UTC()
			}
		}

		messages = append(messages, message)
	}
	return messages, nil
}

// Delete implements Queue.
func (q *SQS) Delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.options.URL),
		ReceiptHandle: aws.String(receipt),
	})
	return receiptError(err, "could not delete message")
}

// ChangeVisibility implements Queue.
func (q *SQS) ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.options.URL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(timeout / time.Second),
	})
	return receiptError(err, "could not change message visibility")
}

// DeadLetter sends a copy of the in-flight message to the dead-letter queue and deletes the original.
func (q *SQS) DeadLetter(ctx context.Context, m Message, reason string) error {
	if q.options.DeadLetterURL == "" {
		return errors.Errorf("queue %s has no dead-letter queue", q.options.Name)
	}

	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.options.DeadLetterURL),
		MessageBody: aws.String(m.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "could not dead-letter message")
	}

	return q.Delete(ctx, m.ReceiptHandle)
}

func receiptError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return errors.Wrap(ErrReceiptNotFound, invalid.ErrorMessage())
	}
	var notInflight *types.MessageNotInflight
	if errors.As(err, &notInflight) {
		return errors.Wrap(ErrReceiptNotFound, notInflight.ErrorMessage())
	}
	return errors.Wrap(err, msg)
}
