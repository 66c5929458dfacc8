// Package notification routes the object creation events of the buckets to their targets.
package notification

import (
	"context"
	"strings"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/queue"
	"github.com/pkg/errors"
)

type (
	// A Target receives the events matching a rule.
	Target interface {
		// Name returns a human readable description of the target.
		Name() string
		Deliver(ctx context.Context, event Event) error
	}

	// A Rule sends the events of the objects created in Bucket under Prefix to Target.
	Rule struct {
		Bucket string
		Prefix string
		Target Target
	}

	// A Dispatcher routes the object creation events according to its rules.
	Dispatcher struct {
		log   logger.Logger
		rules []Rule
	}
)

// NewDispatcher returns a new Dispatcher.
func NewDispatcher(log logger.Logger, rules ...Rule) *Dispatcher {
	return &Dispatcher{
		log:   log.WithPrefix("[notification]"),
		rules: rules,
	}
}

// Rules returns the dispatcher rules.
func (d *Dispatcher) Rules() []Rule {
	return d.rules
}

// ObjectCreated dispatches the creation event of the object to all matching rules.
func (d *Dispatcher) ObjectCreated(ctx context.Context, object *model.Object) error {
	event := ObjectCreated(object)

	for _, rule := range d.rules {
		if rule.Bucket != object.Bucket || !strings.HasPrefix(object.Key, rule.Prefix) {
			continue
		}

		d.log.Debugf("%s/%s -> %s", object.Bucket, object.Key, rule.Target.Name())
		if err := rule.Target.Deliver(ctx, event); err != nil {
			return errors.Wrapf(err, "could not deliver event to %s", rule.Target.Name())
		}
	}
	return nil
}

//
// Targets
//

type queueTarget struct {
	queue queue.Queue
}

// Queue returns a Target sending the events to the queue.
func Queue(q queue.Queue) Target {
	return &queueTarget{queue: q}
}

func (t *queueTarget) Name() string {
	return "queue:" + t.queue.Name()
}

func (t *queueTarget) Deliver(ctx context.Context, event Event) error {
	_, err := t.queue.Send(ctx, event.String())
	return err
}

// A Handler processes an event.
type Handler func(ctx context.Context, event Event) error

type functionTarget struct {
	name    string
	handler Handler
	log     logger.Logger
}

// Function returns a Target invoking the handler asynchronously, once.
// A failed invocation is logged and lost: there is neither retry nor dead-letter queue on this path.
//
// Deprecated: route the events through a Queue target.
func Function(name string, handler Handler, log logger.Logger) Target {
	return &functionTarget{
		name:    name,
		handler: handler,
		log:     log.WithPrefix("[notification:" + name + "]"),
	}
}

func (t *functionTarget) Name() string {
	return "function:" + t.name
}

func (t *functionTarget) Deliver(_ context.Context, event Event) error {
	go func() {
		if err := t.handler(context.Background(), event); err != nil {
			t.log.Errorf("Direct invocation failed, event dropped: %+v", err)
		}
	}()
	return nil
}
