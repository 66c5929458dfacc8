package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/detector"
	"github.com/mdouchement/rekbox/internal/notification"
	"github.com/mdouchement/rekbox/internal/queue"
)

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	// Concurrency is the maximum number of messages processed at the same time.
	Concurrency int
	// BatchSize is the maximum number of messages received at once.
	BatchSize int
	// Timeout bounds the processing of one message.
	Timeout time.Duration
	// Backoff is the pause after a failed receive.
	Backoff time.Duration
}

// A Consumer feeds a Processor with the messages of a queue.
//
// A processed message is deleted. A message failing permanently is dead-lettered at once,
// or deleted when the queue cannot dead-letter. A message failing transiently stays in-flight
// and is redelivered by the queue after its visibility timeout.
type Consumer struct {
	log       logger.Logger
	processor Processor
	queue     queue.Queue
	options   ConsumerOptions
}

// NewConsumer returns a new Consumer.
func NewConsumer(processor Processor, q queue.Queue, o ConsumerOptions, log logger.Logger) *Consumer {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.BatchSize < 1 || o.BatchSize > 10 {
		o.BatchSize = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}

	return &Consumer{
		log:       log.WithPrefix("[consumer:" + q.Name() + "]"),
		processor: processor,
		queue:     q,
		options:   o,
	}
}

// Run consumes the queue until ctx is done and waits for the in-progress messages.
func (c *Consumer) Run(ctx context.Context) error {
	semaphore := make(chan struct{}, c.options.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	c.log.Info("Consumer is running")
	for {
		if ctx.Err() != nil {
			c.log.Info("Consumer stopped")
			return nil
		}

		messages, err := c.queue.Receive(ctx, c.options.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			c.log.Errorf("Receive: %+v", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.options.Backoff):
			}
			continue
		}

		for _, m := range messages {
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				// The remaining messages are redelivered after their visibility timeout.
				continue
			}

			wg.Add(1)
			go func(m queue.Message) {
				defer wg.Done()
				defer func() { <-semaphore }()

				c.Handle(ctx, m)
			}(m)
		}
	}
}

// Handle processes one message and acknowledges it according to the outcome.
func (c *Consumer) Handle(ctx context.Context, m queue.Message) {
	err := c.process(ctx, m)
	ack := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if err = c.queue.Delete(ack, m.ReceiptHandle); err != nil {
			c.log.Errorf("%s: could not delete processed message: %s", m.ID, err)
		}
	case detector.IsPermanent(err):
		c.log.Errorf("%s: permanent failure: %s", m.ID, err)
		c.discard(ack, m, err.Error())
	default:
		c.log.Errorf("%s: failure (receive %d), retried after visibility timeout: %s", m.ID, m.ReceiveCount, err)
	}
}

func (c *Consumer) process(ctx context.Context, m queue.Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	event, err := notification.Parse(m.Body)
	if err != nil {
		return detector.Permanent(err)
	}

	return c.processor.Process(ctx, event)
}

func (c *Consumer) discard(ctx context.Context, m queue.Message, reason string) {
	if dl, ok := c.queue.(queue.DeadLetterer); ok {
		err := dl.DeadLetter(ctx, m, reason)
		if err == nil {
			return
		}
		c.log.Errorf("%s: could not dead-letter message: %s", m.ID, err)
	}

	if err := c.queue.Delete(ctx, m.ReceiptHandle); err != nil {
		c.log.Errorf("%s: could not delete message: %s", m.ID, err)
		return
	}
	c.log.Infof("%s: message dropped: %s", m.ID, reason)
}
