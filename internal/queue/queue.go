// Package queue provides the durable buffers between the object notifications and the detection worker.
package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrReceiptNotFound is returned when a receipt handle does not match an in-flight message.
// It happens when the handle is stale: the message has been redelivered, moved or deleted.
var ErrReceiptNotFound = errors.New("receipt handle not found")

type (
	// A Message is a delivered queue message.
	Message struct {
		ID            string    `json:"id"             yaml:"id"`
		Body          string    `json:"body"           yaml:"body"`
		ReceiptHandle string    `json:"receipt_handle" yaml:"receipt_handle,omitempty"`
		ReceiveCount  int       `json:"receive_count"  yaml:"receive_count"`
		SentAt        time.Time `json:"sent_at"        yaml:"sent_at"`
		Reason        string    `json:"reason"         yaml:"reason,omitempty"`
	}

	// A Queue is an at-least-once message queue with a visibility timeout.
	Queue interface {
		// Name returns the queue name.
		Name() string
		// Send enqueues a message and returns its identifier.
		Send(ctx context.Context, body string) (string, error)
		// Receive returns up to max visible messages, waiting for the queue wait time if none is available.
		// Received messages are invisible until they are deleted or their visibility timeout expires.
		Receive(ctx context.Context, max int) ([]Message, error)
		// Delete acknowledges the message delivered with the given receipt handle.
		Delete(ctx context.Context, receipt string) error
		// ChangeVisibility sets the remaining invisibility of an in-flight message.
		ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error
	}

	// A DeadLetterer can move an in-flight message to its dead-letter queue.
	DeadLetterer interface {
		DeadLetter(ctx context.Context, m Message, reason string) error
	}

	// A RedrivePolicy moves the messages received too many times to a dead-letter queue.
	RedrivePolicy struct {
		DeadLetterQueue string `yaml:"deadLetterQueue"`
		MaxReceiveCount int    `yaml:"maxReceiveCount"`
	}
)

// IsReceiptNotFound returns true if err is a stale or unknown receipt handle error.
func IsReceiptNotFound(err error) bool {
	return errors.Is(err, ErrReceiptNotFound)
}
