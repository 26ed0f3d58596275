package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// Handler applies one user's staged snapshot.
type Handler interface {
	ApplySingleUser(ctx context.Context, encUPN, reportRefreshDate string) error
}

type ConsumerConfig struct {
	Queue         string
	ConsumerID    string
	Concurrency   int
	MaxDeliveries int
	// BlockTimeout bounds each BLMOVE; redis rounds it up to whole seconds.
	BlockTimeout  time.Duration
	PausedBackoff time.Duration
}

func ConsumerConfigFromEnv() ConsumerConfig {
	host, _ := os.Hostname()
	return ConsumerConfig{
		Queue:         envutil.String("USER_AGGREGATIONS_QUEUE_NAME", DefaultQueueName),
		ConsumerID:    envutil.String("QUEUE_CONSUMER_ID", host),
		Concurrency:   envutil.Int("QUEUE_WORKER_CONCURRENCY", 4),
		MaxDeliveries: envutil.Int("QUEUE_MAX_DELIVERIES", 5),
		BlockTimeout:  envutil.Duration("QUEUE_BLOCK_TIMEOUT", 5*time.Second),
		PausedBackoff: envutil.Duration("QUEUE_PAUSED_BACKOFF", 30*time.Second),
	}
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if strings.TrimSpace(c.Queue) == "" {
		c.Queue = DefaultQueueName
	}
	if strings.TrimSpace(c.ConsumerID) == "" {
		c.ConsumerID = "consumer"
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxDeliveries < 1 {
		c.MaxDeliveries = 1
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = time.Second
	}
	if c.PausedBackoff < 0 {
		c.PausedBackoff = 0
	}
	return c
}

// Consumer drains the redis list with a pool of workers. Each worker moves a
// message into its own processing list before handling it, so a crash leaves
// the message recoverable on the next start.
type Consumer struct {
	rdb     goredis.UniversalClient
	handler Handler
	cfg     ConsumerConfig
	metrics *observability.Metrics
	log     *logger.Logger
}

func NewConsumer(rdb goredis.UniversalClient, handler Handler, cfg ConsumerConfig, metrics *observability.Metrics, baseLog *logger.Logger) *Consumer {
	return &Consumer{
		rdb:     rdb,
		handler: handler,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		log:     baseLog.With("component", "QueueConsumer"),
	}
}

// Run blocks until ctx is done and every worker has returned.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil || c.rdb == nil || c.handler == nil {
		return fmt.Errorf("queue: consumer not configured")
	}
	c.log.Info("Starting queue consumer", "queue", c.cfg.Queue, "concurrency", c.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		proc := processingList(c.cfg.Queue, c.cfg.ConsumerID, i+1)
		if err := c.recoverOrphans(ctx, proc); err != nil {
			c.log.Warn("Failed to recover in-flight messages", "list", proc, "error", err)
		}
		wg.Add(1)
		go func(workerID int, proc string) {
			defer wg.Done()
			c.runLoop(ctx, workerID, proc)
		}(i+1, proc)
	}
	wg.Wait()
	c.log.Info("Queue consumer stopped", "queue", c.cfg.Queue)
	return nil
}

// recoverOrphans returns messages left in a processing list by a previous
// process to the head of the queue.
func (c *Consumer) recoverOrphans(ctx context.Context, proc string) error {
	n := 0
	for {
		err := c.rdb.LMove(ctx, proc, c.cfg.Queue, "RIGHT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		c.log.Info("Recovered in-flight messages", "list", proc, "count", n)
	}
	return nil
}

func (c *Consumer) runLoop(ctx context.Context, workerID int, proc string) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := c.rdb.BLMove(ctx, c.cfg.Queue, proc, "RIGHT", "LEFT", c.cfg.BlockTimeout).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("Queue receive failed", "worker_id", workerID, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		c.handle(ctx, workerID, proc, raw)
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, proc, raw string) {
	m, err := Decode(raw)
	if err != nil {
		c.log.Warn("Dropping malformed message to dead letter", "worker_id", workerID, "error", err)
		c.settle(ctx, proc, raw, DeadLetterList(c.cfg.Queue), raw, "dead")
		return
	}

	err = c.apply(ctx, m)
	switch {
	case err == nil:
		if lerr := c.rdb.LRem(ctx, proc, 1, raw).Err(); lerr != nil {
			c.log.Warn("Ack failed", "worker_id", workerID, "error", lerr)
		}
		c.metrics.IncQueue(c.cfg.Queue, "acked")
	case ctx.Err() != nil:
		// left in the processing list; recovered on next start
	case errors.Is(err, aggregation.ErrIngestionPaused):
		c.settle(ctx, proc, raw, c.cfg.Queue, raw, "paused")
		sleepCtx(ctx, c.cfg.PausedBackoff)
	case errors.Is(err, aggregation.ErrSnapshotNotStaged):
		c.log.Warn("No staged snapshot, dead-lettering", "worker_id", workerID,
			"encrypted_upn", m.EncryptedUPN, "report_refresh_date", m.ReportRefreshDate)
		c.settle(ctx, proc, raw, DeadLetterList(c.cfg.Queue), raw, "dead")
	default:
		m.Deliveries++
		next, eerr := Encode(m)
		if eerr != nil {
			next = raw
		}
		if m.Deliveries >= c.cfg.MaxDeliveries {
			c.log.Error("User aggregation failed permanently", "worker_id", workerID,
				"encrypted_upn", m.EncryptedUPN, "deliveries", m.Deliveries, "error", err)
			c.settle(ctx, proc, raw, DeadLetterList(c.cfg.Queue), next, "dead")
			return
		}
		c.log.Warn("User aggregation failed, requeueing", "worker_id", workerID,
			"encrypted_upn", m.EncryptedUPN, "deliveries", m.Deliveries, "error", err)
		c.settle(ctx, proc, raw, c.cfg.Queue, next, "retried")
	}
}

// settle removes raw from the processing list and pushes next onto dest in
// one transaction.
func (c *Consumer) settle(ctx context.Context, proc, raw, dest, next, event string) {
	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, proc, 1, raw)
		p.LPush(ctx, dest, next)
		return nil
	})
	if err != nil {
		c.log.Warn("Failed to settle message", "dest", dest, "error", err)
		return
	}
	c.metrics.IncQueue(c.cfg.Queue, event)
}

func (c *Consumer) apply(ctx context.Context, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("User aggregation panic", "encrypted_upn", m.EncryptedUPN, "panic", r)
			err = &panicError{Val: r}
		}
	}()
	return c.handler.ApplySingleUser(ctx, m.EncryptedUPN, m.ReportRefreshDate)
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
