package worker

import (
	"context"

	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/queue"
)

// Consumer abstracts the run stream for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, outcome, errMsg string) error
}

// Runner executes one pipeline run. *brain.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req brain.RunRequest) (*brain.RunResult, error)
}
