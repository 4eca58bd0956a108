package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	// Enqueue adds msg to the run stream and returns the stream message id.
	Enqueue(ctx context.Context, msg RunMessage) (string, error)
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg RunMessage) (string, error) {
	values := runValues(msg)

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued run request",
		"message_id", id,
		"anchor_key", msg.AnchorKey,
		"target_project", msg.TargetProject,
		"attempt", values["attempt"])
	return id, nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
