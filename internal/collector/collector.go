// Package collector drains scenario result events from the queue into the run store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradegen/tgen-e2e/internal/queue"
	"github.com/tradegen/tgen-e2e/internal/report"
	"github.com/tradegen/tgen-e2e/internal/runstore"
)

var ErrInvalidConfig = errors.New("collector: invalid config")

type Config struct {
	Store  runstore.Store
	Logger *zap.Logger

	// AckTimeout bounds each acknowledgement. Default 5s.
	AckTimeout time.Duration
	// StoreTimeout bounds each insert. Default 10s.
	StoreTimeout time.Duration
}

type Collector struct {
	cfg Config
	log *zap.Logger
}

// Stats counts what Run did with the messages it saw.
type Stats struct {
	Recorded   int
	Duplicates int
	Rejected   int
}

func New(cfg Config) (*Collector, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{cfg: cfg, log: log}, nil
}

// Run consumes until ctx is done or the consumer closes its message channel.
//
// Payloads that cannot be decoded, and results conflicting with an already stored one, are
// logged and acked so they do not block the partition. A store failure returns without
// acking, leaving the message for redelivery.
func (c *Collector) Run(ctx context.Context, consumer queue.Consumer) (Stats, error) {
	var stats Stats
	msgCh := consumer.Messages()
	errCh := consumer.Errors()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("shutdown", zap.Error(ctx.Err()))
			return stats, nil
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.log.Error("queue consume error", zap.Error(err))
		case msg, ok := <-msgCh:
			if !ok {
				return stats, nil
			}
			if err := c.handle(ctx, msg, &stats); err != nil {
				return stats, err
			}
		}
	}
}

func (c *Collector) handle(ctx context.Context, msg queue.Message, stats *Stats) error {
	ev, err := report.DecodeResultEvent(msg.Value)
	if err != nil {
		c.log.Error("parse result event", zap.String("topic", msg.Topic), zap.Error(err))
		stats.Rejected++
		c.ack(msg)
		return nil
	}
	rec, err := runstore.FromEvent(ev)
	if err != nil {
		c.log.Error("convert result event", zap.String("result_id", ev.ResultID), zap.Error(err))
		stats.Rejected++
		c.ack(msg)
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	created, err := c.cfg.Store.RecordResult(sctx, rec)
	cancel()
	switch {
	case errors.Is(err, runstore.ErrResultMismatch):
		c.log.Error("result conflicts with stored result",
			zap.String("run_id", rec.RunID),
			zap.String("suite", rec.Suite),
			zap.String("scenario", rec.Scenario),
		)
		stats.Rejected++
		c.ack(msg)
		return nil
	case err != nil:
		return fmt.Errorf("collector: record %s: %w", rec.ResultID.Hex(), err)
	}

	if created {
		stats.Recorded++
	} else {
		stats.Duplicates++
	}
	c.log.Debug("result recorded",
		zap.String("run_id", rec.RunID),
		zap.String("scenario", rec.Suite+"/"+rec.Scenario),
		zap.String("state", string(rec.State)),
		zap.Bool("created", created),
	)
	c.ack(msg)
	return nil
}

func (c *Collector) ack(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AckTimeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		c.log.Error("ack queue message", zap.String("topic", msg.Topic), zap.Error(err))
	}
}
