package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/queue"
	"go.opentelemetry.io/otel/attribute"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer Consumer
	runner   Runner
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, runner Runner, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		consumer:  consumer,
		runner:    runner,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "testgen.worker"})
	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.ProcessMessage(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message handling failed",
				"error", err,
				"message_id", msg.ID,
				"anchor_key", msg.AnchorKey)
		}
	}
	return nil
}

// ProcessMessage runs the pipeline for msg and settles it: ack on success,
// requeue on retryable failures below MaxAttempts, DLQ otherwise. The
// returned error only reports queue failures. Exported for the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(msg.ID),
		AnchorKey: logger.Ptr(msg.AnchorKey),
	})

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_run")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("anchor_key", msg.AnchorKey),
		attribute.Int("attempt", msg.Attempt),
	)

	slog.InfoContext(ctx, "processing run request",
		"attempt", msg.Attempt,
		"target_project", msg.TargetProject,
		"dry_run", msg.DryRun)

	result, runErr := w.runSafe(ctx, msg)
	if runErr == nil {
		if err := w.consumer.Ack(ctx, msg); err != nil {
			// The reclaimer redelivers an unacked message, and the rerun
			// publishes a second set of test cases. Log the keys of this
			// run so the duplicates can be found.
			slog.ErrorContext(ctx, "failed to ACK message, redelivery will republish",
				"error", err,
				"published", publishedKeys(result))
		}
		return nil
	}

	sc.RecordError(runErr)
	outcome := brain.Classify(runErr)
	if result != nil {
		outcome = result.Outcome
	}

	if brain.IsRetryable(runErr) && msg.Attempt < w.cfg.MaxAttempts {
		slog.WarnContext(ctx, "requeuing failed run",
			"outcome", outcome,
			"attempt", msg.Attempt,
			"error", runErr)
		if err := w.consumer.Requeue(ctx, msg, runErr.Error()); err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
		return nil
	}

	slog.ErrorContext(ctx, "run failed permanently, sending to DLQ",
		"outcome", outcome,
		"attempt", msg.Attempt,
		"error", runErr)
	if err := w.consumer.SendDLQ(ctx, msg, string(outcome), runErr.Error()); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func (w *Worker) runSafe(ctx context.Context, msg queue.Message) (result *brain.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in run", "panic", r)
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return w.runner.Run(ctx, brain.RunRequest{
		AnchorKey:     msg.AnchorKey,
		TargetProject: msg.TargetProject,
		DryRun:        msg.DryRun,
	})
}

func publishedKeys(result *brain.RunResult) []string {
	if result == nil {
		return nil
	}
	keys := make([]string, 0, len(result.Published))
	for _, p := range result.Published {
		keys = append(keys, p.Key)
	}
	return keys
}
