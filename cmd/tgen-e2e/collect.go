package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradegen/tgen-e2e/internal/collector"
	"github.com/tradegen/tgen-e2e/internal/logging"
	"github.com/tradegen/tgen-e2e/internal/queue"
)

func newCollectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Store scenario results published by runs into the run store",
		Long: "Collect consumes result events from the queue until interrupted (or until stdin\n" +
			"ends with --queue-driver=stdio) and records each one in the run store.",
		RunE: a.collect,
	}
	f := cmd.Flags()
	f.String("queue-driver", "", "kafka|stdio")
	f.String("runstore-driver", "", "postgres|memory")
	f.String("dsn", "", "Postgres DSN of the run store")
	f.Duration("ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")
	return cmd
}

func (a *app) collect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logging.NewLogger(cfg.Verbose, a.stderr)
	defer log.Sync() //nolint:errcheck

	store, release, err := a.openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	driver := cfg.Queue.Driver
	if driver == "" {
		driver = queue.DriverKafka
	}
	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:  driver,
		Brokers: cfg.Queue.Brokers,
		Group:   cfg.Queue.Group,
		Topics:  []string{cfg.Queue.Topic},
		TLS:     cfg.Queue.TLS,
		Reader:  a.stdin,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	ackTimeout, _ := cmd.Flags().GetDuration("ack-timeout")
	c, err := collector.New(collector.Config{Store: store, Logger: log, AckTimeout: ackTimeout})
	if err != nil {
		return err
	}
	log.Info("results collector started",
		zap.String("queue_driver", driver),
		zap.String("topic", cfg.Queue.Topic),
		zap.String("runstore_driver", cfg.RunStore.Driver),
	)
	stats, err := c.Run(ctx, consumer)
	log.Info("results collector stopped",
		zap.Int("recorded", stats.Recorded),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("rejected", stats.Rejected),
	)
	return err
}
