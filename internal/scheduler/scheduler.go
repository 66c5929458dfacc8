package scheduler

import (
	"context"
	"time"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/robfig/cron/v3"
)

type (
	// A Purger drops the messages of a queue that outlived their retention period.
	Purger interface {
		Name() string
		Purge(ctx context.Context) (int, error)
	}

	// An IdentityPurger drops the identities that never confirmed their sign-up.
	IdentityPurger interface {
		PurgePending(ctx context.Context, grace time.Duration) (int, error)
	}

	// A Controller holds the housekeeping targets and the schedule of the tasks.
	Controller struct {
		Logger        logger.Logger
		Storage       storage.Backend
		Queues        []Purger
		Identities    IdentityPurger
		Specification string
		// PendingIdentity is the grace period of the unconfirmed identities after their code expired.
		PendingIdentity time.Duration
	}
)

// Start lauches the scheduler asynchronously.
func Start(c Controller) *cron.Cron {
	cron := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	log := c.Logger.WithPrefix("[scheduler]")

	_, err := cron.AddFunc(c.Specification, func() {
		Tick(context.Background(), c)
	})
	if err != nil {
		panic(err)
	}
	log.Info("Housekeeping task registred")

	cron.Start()
	log.Info("Scheduler is running")
	return cron
}

// Tick runs all the housekeeping tasks once.
func Tick(ctx context.Context, c Controller) {
	log := c.Logger.WithPrefix("[retention]")
	for _, q := range c.Queues {
		n, err := q.Purge(ctx)
		if err != nil {
			log.Error(err)
			continue
		}
		if n > 0 {
			log.Infof("Purged %d expired messages from %s", n, q.Name())
		}
	}

	if c.Identities != nil {
		log = c.Logger.WithPrefix("[identity]")

		n, err := c.Identities.PurgePending(ctx, c.PendingIdentity)
		if err != nil {
			log.Error(err)
		} else if n > 0 {
			log.Infof("Purged %d pending identities", n)
		}
	}

	if c.Storage != nil {
		log = c.Logger.WithPrefix("[storage]")

		log.Debug("Storage cleanup")
		if err := c.Storage.Cleanup(); err != nil {
			log.Error(err)
		}
	}
}
