package main

import (
	"context"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/mdouchement/rekbox/internal/config"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/frontend"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/notification"
	"github.com/mdouchement/rekbox/internal/scheduler"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/topology"
	"github.com/mdouchement/rekbox/internal/webserver"
	"github.com/mdouchement/rekbox/internal/worker"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	binding    string
	port       string
	withWorker bool
)

func main() {
	c := &cobra.Command{
		Use:     "rekbox",
		Short:   "Image labelling box: storage, detection worker and front-end API",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.ExactArgs(0),
	}
	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for rekbox",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(c.Version)
		},
	})
	c.AddCommand(initCmd)
	c.AddCommand(reindexCmd)
	c.AddCommand(topologyCmd)
	c.AddCommand(deploySiteCmd)

	serverCmd.Flags().StringVarP(&binding, "binding", "b", "0.0.0.0", "Server's binding")
	serverCmd.Flags().StringVarP(&port, "port", "p", "5000", "Server's port")
	serverCmd.Flags().BoolVarP(&withWorker, "worker", "w", true, "Consume the image queue in the server process")
	c.AddCommand(serverCmd)
	c.AddCommand(workerCmd)

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRedriveCmd)
	c.AddCommand(dlqCmd)

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Init the database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return database.StormInit(cfg.DatabaseFile(dbname))
		},
	}

	//

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Reindex the database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return database.StormReIndex(cfg.DatabaseFile(dbname))
		},
	}

	//

	topologyCmd = &cobra.Command{
		Use:   "topology",
		Short: "Print the resolved topology",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			payload, err := topology.New(cfg).Describe()
			if err != nil {
				return err
			}
			fmt.Print(string(payload))
			return nil
		},
	}

	//

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start server",
		Args:  cobra.ExactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := boot(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			labels, err := a.newLabelStore(ctx)
			if err != nil {
				return err
			}

			verifier, pool, err := a.newIdentity(ctx)
			if err != nil {
				return err
			}

			//

			g, ctx := errgroup.WithContext(ctx)

			targets := map[string]notification.Target{}
			purgers := []scheduler.Purger{}

			if a.config.Queue.Backend == "none" {
				w, err := a.newWorker(ctx, labels)
				if err != nil {
					return err
				}

				a.logger.Info("Image notifications invoke the detection worker directly, failures are not retried")
				targets[topology.DetectionFunction] = notification.Function(topology.DetectionFunction, worker.Invoker(w, a.config.Worker.Timeout), a.logger)
			} else {
				q, p, err := a.newQueue(ctx)
				if err != nil {
					return err
				}
				targets[q.Name()] = notification.Queue(q)
				purgers = p

				if withWorker {
					w, err := a.newWorker(ctx, labels)
					if err != nil {
						return err
					}

					consumer := a.newConsumer(w, q)
					g.Go(func() error {
						return consumer.Run(ctx)
					})
				}
			}

			rules, err := a.stack.Rules(targets)
			if err != nil {
				return err
			}

			//

			var identities scheduler.IdentityPurger
			if pool != nil {
				identities = pool
			}
			cron := scheduler.Start(scheduler.Controller{
				Logger:          a.logger,
				Storage:         a.storage,
				Queues:          purgers,
				Identities:      identities,
				Specification:   a.config.Scheduler.Specification,
				PendingIdentity: a.config.Scheduler.PendingIdentity,
			})
			defer cron.Stop()

			//

			engine, err := webserver.EchoEngine(webserver.Controller{
				Version:  c.Parent().Version,
				Logger:   a.logger,
				Database: a.db,
				Storage:  a.storage,
				Frontend: frontend.New(frontend.Controller{
					Logger:        a.logger,
					Database:      a.db,
					Storage:       a.storage,
					Labels:        labels,
					Role:          a.stack.Role(topology.FrontendRole),
					Table:         a.config.Table,
					ImageBucket:   a.config.Bucket,
					ResizedBucket: a.config.ResizedBucket,
				}),
				Verifier:      verifier,
				Pool:          pool,
				IdentityRole:  a.stack.Role(topology.AuthenticatedRole),
				Notifier:      notification.NewDispatcher(a.logger, rules...),
				SiteRole:      a.stack.Role(topology.SiteRole),
				WebsiteBucket: a.config.WebsiteBucket,
				AllowedCIDRs:  a.config.Site.AllowedCIDRs,
			})
			if err != nil {
				return err
			}
			webserver.PrintRoutes(engine)

			listen := fmt.Sprintf("%s:%s", binding, port)
			g.Go(func() error {
				<-ctx.Done()
				return engine.Shutdown(context.Background())
			})
			g.Go(func() error {
				a.logger.Infof("Server listening on %s", listen)
				err := engine.Start(listen)
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return errors.Wrap(err, "could not run server")
			})

			return g.Wait()
		},
	}

	//

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Consume the image queue",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := boot(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.config.Queue.Backend == "none" {
				return errors.New("no image queue to consume, the detection worker is invoked by the server")
			}

			labels, err := a.newLabelStore(ctx)
			if err != nil {
				return err
			}

			w, err := a.newWorker(ctx, labels)
			if err != nil {
				return err
			}

			q, _, err := a.newQueue(ctx)
			if err != nil {
				return err
			}
			return a.newConsumer(w, q).Run(ctx)
		},
	}

	//

	deploySiteCmd = &cobra.Command{
		Use:   "deploy-site <directory>",
		Short: "Upload an asset bundle to the website bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := boot(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			principal := a.stack.Role(topology.SiteDeploymentRole).Assume("")
			root := args[0]

			return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() {
					return err
				}

				key, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}
				key = filepath.ToSlash(key)

				f, err := os.Open(path)
				if err != nil {
					return errors.Wrap(err, "could not open asset")
				}
				defer f.Close()

				object := &model.Object{
					Bucket:      a.config.WebsiteBucket,
					Key:         key,
					ContentType: mime.TypeByExtension(filepath.Ext(path)),
				}
				if err = service.NewObjectUploader(a.db, a.storage, principal, object).Upload(ctx, f); err != nil {
					return errors.Wrapf(err, "could not upload %s", key)
				}

				a.logger.Infof("Deployed %s/%s (%d bytes)", object.Bucket, object.Key, object.Size)
				return nil
			})
		},
	}

	//

	dlqCmd = &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and redrive the dead-letter queue",
	}

	dlqListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the dead-lettered messages",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()

			a, err := boot(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			_, dlq, err := a.deadLetterQueue()
			if err != nil {
				return err
			}

			messages, err := dlq.Messages(ctx)
			if err != nil {
				return err
			}

			payload, err := yaml.Marshal(messages)
			if err != nil {
				return errors.Wrap(err, "could not render messages")
			}
			fmt.Print(string(payload))
			return nil
		},
	}

	dlqRedriveCmd = &cobra.Command{
		Use:   "redrive",
		Short: "Move the dead-lettered messages back to the image queue",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()

			a, err := boot(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			primary, dlq, err := a.deadLetterQueue()
			if err != nil {
				return err
			}

			n, err := dlq.MoveAll(ctx, primary.Name())
			if err != nil {
				return err
			}
			a.logger.Infof("Redrove %d messages from %s to %s", n, dlq.Name(), primary.Name())
			return nil
		},
	}
)
