package queue

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

// ReasonMaxReceiveCount is set on the messages moved by the redrive policy.
const ReasonMaxReceiveCount = "MaxReceiveCountExceeded"

type (
	// A Broker hosts the queues persisted in the metadata database.
	Broker struct {
		mu       sync.Mutex
		database database.Client
		logger   logger.Logger
		clock    func() time.Time
		waiters  map[string]chan struct{}
	}

	// Options configures a queue of the broker.
	Options struct {
		Name              string
		VisibilityTimeout time.Duration
		WaitTime          time.Duration
		// PollInterval bounds the wait between two lookups of a long poll.
		PollInterval time.Duration
		Retention    time.Duration
		Redrive      *RedrivePolicy
	}

	// A StormQueue is a Queue persisted in the metadata database.
	StormQueue struct {
		broker  *Broker
		options Options
		log     logger.Logger
	}
)

// NewBroker returns a new Broker.
func NewBroker(database database.Client, log logger.Logger) *Broker {
	return &Broker{
		database: database,
		logger:   log,
		clock:    time.Now,
		waiters:  map[string]chan struct{}{},
	}
}

// WithClock overrides the clock used for visibility and retention computations.
func (b *Broker) WithClock(clock func() time.Time) *Broker {
	b.clock = clock
	return b
}

// Queue returns the queue described by the options.
func (b *Broker) Queue(o Options) *StormQueue {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 4 * 24 * time.Hour
	}
	if o.Redrive != nil {
		redrive := *o.Redrive
		if redrive.MaxReceiveCount < 1 {
			redrive.MaxReceiveCount = 1
		}
		o.Redrive = &redrive
	}

	return &StormQueue{
		broker:  b,
		options: o,
		log:     b.logger.WithPrefix("[queue:" + o.Name + "]"),
	}
}

func (b *Broker) now() time.Time {
	return b.clock().UTC()
}

// waiter returns a channel closed at the next signal of the queue. Must be called with the lock held.
func (b *Broker) waiter(name string) chan struct{} {
	ch, ok := b.waiters[name]
	if !ok {
		ch = make(chan struct{})
		b.waiters[name] = ch
	}
	return ch
}

// signal wakes up the long polls of the queue. Must be called with the lock held.
func (b *Broker) signal(name string) {
	if ch, ok := b.waiters[name]; ok {
		close(ch)
		delete(b.waiters, name)
	}
}

// Name implements Queue.
func (q *StormQueue) Name() string {
	return q.options.Name
}

// Options returns the queue options.
func (q *StormQueue) Options() Options {
	return q.options
}

// Send implements Queue.
func (q *StormQueue) Send(_ context.Context, body string) (string, error) {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	now := q.broker.now()
	message := &model.Message{
		Queue:     q.options.Name,
		Body:      body,
		SentAt:    now,
		VisibleAt: now,
	}

	if err := q.broker.database.Save(message); err != nil {
		return "", errors.Wrap(err, "could not send message")
	}

	q.broker.signal(q.options.Name)
	return message.ID, nil
}

// Receive implements Queue.
func (q *StormQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	deadline := q.broker.now().Add(q.options.WaitTime)

	for {
		q.broker.mu.Lock()
		messages, err := q.receive(max)
		wakeup := q.broker.waiter(q.options.Name)
		q.broker.mu.Unlock()

		if err != nil || len(messages) > 0 {
			return messages, err
		}

		remaining := deadline.Sub(q.broker.now())
		if remaining <= 0 {
			return messages, nil
		}
		if remaining > q.options.PollInterval {
			remaining = q.options.PollInterval
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return messages, ctx.Err()
		case <-wakeup:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// receive must be called with the lock held.
func (q *StormQueue) receive(max int) ([]Message, error) {
	stored, err := q.broker.database.FindMessagesByQueue(q.options.Name)
	if err != nil && !q.broker.database.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not receive messages")
	}

	now := q.broker.now()
	messages := make([]Message, 0, max)
	for _, m := range stored {
		if len(messages) == max {
			break
		}

		if m.VisibleAt.After(now) {
			continue
		}

		if now.Sub(m.SentAt) > q.options.Retention {
			if err = q.broker.database.Delete(m); err != nil {
				return nil, errors.Wrap(err, "could not expire message")
			}
			q.log.Infof("Message %s expired", m.ID)
			continue
		}

		if q.options.Redrive != nil && m.ReceiveCount >= q.options.Redrive.MaxReceiveCount {
			if err = q.move(m, q.options.Redrive.DeadLetterQueue, ReasonMaxReceiveCount); err != nil {
				return nil, err
			}
			q.log.Infof("Message %s moved to %s after %d receives", m.ID, q.options.Redrive.DeadLetterQueue, m.ReceiveCount)
			continue
		}

		m.ReceiveCount++
		m.ReceiptHandle = uuid.Must(uuid.NewV4()).String()
		m.VisibleAt = now.Add(q.options.VisibilityTimeout)
		if err = q.broker.database.Save(m); err != nil {
			return nil, errors.Wrap(err, "could not mark message in-flight")
		}

		messages = append(messages, newMessage(m))
	}

	return messages, nil
}

// Delete implements Queue.
func (q *StormQueue) Delete(_ context.Context, receipt string) error {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	m, err := q.inflight(receipt)
	if err != nil {
		return err
	}

	return errors.Wrap(q.broker.database.Delete(m), "could not delete message")
}

// ChangeVisibility implements Queue.
func (q *StormQueue) ChangeVisibility(_ context.Context, receipt string, timeout time.Duration) error {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	m, err := q.inflight(receipt)
	if err != nil {
		return err
	}

	m.VisibleAt = q.broker.now().Add(timeout)
	if err = q.broker.database.Save(m); err != nil {
		return errors.Wrap(err, "could not change message visibility")
	}

	if timeout <= 0 {
		q.broker.signal(q.options.Name)
	}
	return nil
}

// DeadLetter implements DeadLetterer.
func (q *StormQueue) DeadLetter(_ context.Context, message Message, reason string) error {
	if q.options.Redrive == nil {
		return errors.Errorf("queue %s has no dead-letter queue", q.options.Name)
	}

	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	m, err := q.inflight(message.ReceiptHandle)
	if err != nil {
		return err
	}

	q.log.Infof("Message %s dead-lettered: %s", m.ID, reason)
	return q.move(m, q.options.Redrive.DeadLetterQueue, reason)
}

// Messages returns all the messages of the queue, in-flight ones included.
func (q *StormQueue) Messages(_ context.Context) ([]Message, error) {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	stored, err := q.broker.database.FindMessagesByQueue(q.options.Name)
	if err != nil && !q.broker.database.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not list messages")
	}

	messages := make([]Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, newMessage(m))
	}
	return messages, nil
}

// MoveAll moves all the messages of the queue to the destination queue and returns how many were moved.
// The receive counts are reset, it is used to redrive a dead-letter queue.
func (q *StormQueue) MoveAll(_ context.Context, destination string) (int, error) {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	stored, err := q.broker.database.FindMessagesByQueue(q.options.Name)
	if err != nil && !q.broker.database.IsNotFound(err) {
		return 0, errors.Wrap(err, "could not list messages")
	}

	for _, m := range stored {
		m.ReceiveCount = 0
		if err = q.move(m, destination, ""); err != nil {
			return 0, err
		}
	}
	return len(stored), nil
}

// Purge removes the messages older than the retention period and returns how many were removed.
func (q *StormQueue) Purge(_ context.Context) (int, error) {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	stored, err := q.broker.database.FindMessagesByQueue(q.options.Name)
	if err != nil && !q.broker.database.IsNotFound(err) {
		return 0, errors.Wrap(err, "could not list messages")
	}

	now := q.broker.now()
	var n int
	for _, m := range stored {
		if now.Sub(m.SentAt) <= q.options.Retention {
			continue
		}

		if err = q.broker.database.Delete(m); err != nil {
			return n, errors.Wrap(err, "could not purge message")
		}
		n++
	}
	return n, nil
}

// inflight must be called with the lock held.
func (q *StormQueue) inflight(receipt string) (*model.Message, error) {
	if receipt == "" {
		return nil, ErrReceiptNotFound
	}

	m, err := q.broker.database.FindMessageByReceipt(q.options.Name, receipt)
	if q.broker.database.IsNotFound(err) {
		return nil, errors.Wrap(ErrReceiptNotFound, receipt)
	}
	return m, errors.Wrap(err, "could not find message")
}

// move must be called with the lock held.
func (q *StormQueue) move(m *model.Message, destination, reason string) error {
	m.Queue = destination
	m.Reason = reason
	m.ReceiptHandle = ""
	m.VisibleAt = q.broker.now()

	if err := q.broker.database.Save(m); err != nil {
		return errors.Wrapf(err, "could not move message to %s", destination)
	}

	q.broker.signal(destination)
	return nil
}

func newMessage(m *model.Message) Message {
	return Message{
		ID:            m.ID,
		Body:          m.Body,
		ReceiptHandle: m.ReceiptHandle,
		ReceiveCount:  m.ReceiveCount,
		SentAt:        m.SentAt,
		Reason:        m.Reason,
	}
}
