package handler_test

import (
	"context"

	"basegraph.app/testgen/internal/queue"
)

type mockProducer struct {
	enqueued  []queue.RunMessage
	enqueueFn func(ctx context.Context, msg queue.RunMessage) (string, error)
}

func (m *mockProducer) Enqueue(ctx context.Context, msg queue.RunMessage) (string, error) {
	m.enqueued = append(m.enqueued, msg)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, msg)
	}
	return "1700000000000-0", nil
}

func (m *mockProducer) Close() error { return nil }
