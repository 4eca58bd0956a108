package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/queue"
	"github.com/redis/go-redis/v9"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxDeliveries bounds how often one run is redelivered after a worker
	// died mid-run. Past it the message goes to the DLQ. Zero disables the cap.
	MaxDeliveries int64
}

// RedisReclaimer picks up runs left pending by a worker that crashed
// between XREADGROUP and XACK and hands them back to the processor.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  Consumer
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer Consumer, processor queue.MessageProcessor) *RedisReclaimer {
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx is done.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "testgen.worker.reclaimer",
	})
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"max_deliveries", r.cfg.MaxDeliveries,
		"stream", r.cfg.Stream)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if n, err := r.reclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "reclaim cycle finished", "reclaimed", n)
			}
		}
	}
}

func (r *RedisReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *RedisReclaimer) reclaimOnce(ctx context.Context) (int, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}

	reclaimed := 0
	for _, p := range pending {
		ok, err := r.reclaim(ctx, p)
		if err != nil {
			slog.ErrorContext(ctx, "failed to reclaim run",
				"error", err,
				"message_id", p.ID,
				"original_consumer", p.Consumer,
				"idle_time", p.Idle)
			continue
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// reclaim claims one stale run. It reports false when another worker
// claimed it first.
func (r *RedisReclaimer) reclaim(ctx context.Context, pending redis.XPendingExt) (bool, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(pending.ID),
	})

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: []string{pending.ID},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("xclaim: %w", err)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	msg, err := queue.ParseMessage(claimed[0])
	if err != nil {
		slog.ErrorContext(ctx, "dropping malformed reclaimed run", "error", err)
		_ = r.consumer.Ack(ctx, queue.Message{ID: claimed[0].ID, Raw: claimed[0]})
		return true, nil
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{AnchorKey: logger.Ptr(msg.AnchorKey)})

	if r.cfg.MaxDeliveries > 0 && pending.RetryCount >= r.cfg.MaxDeliveries {
		slog.WarnContext(ctx, "run abandoned by workers too often, sending to DLQ",
			"deliveries", pending.RetryCount)
		reason := fmt.Sprintf("abandoned after %d deliveries", pending.RetryCount)
		if err := r.consumer.SendDLQ(ctx, msg, string(brain.OutcomeUnhandled), reason); err != nil {
			return true, fmt.Errorf("send to dlq: %w", err)
		}
		return true, nil
	}

	slog.InfoContext(ctx, "reclaiming stale run",
		"original_consumer", pending.Consumer,
		"idle_time", pending.Idle,
		"deliveries", pending.RetryCount)

	start := time.Now()
	if err := r.processor(ctx, msg); err != nil {
		return true, fmt.Errorf("processing reclaimed run: %w", err)
	}
	slog.InfoContext(ctx, "reclaimed run processed", "duration_ms", time.Since(start).Milliseconds())
	return true, nil
}
