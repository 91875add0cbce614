// Package handoff tells the import daemon that a committed trace is ready.
// The daemon's source of truth is the trace state in the metadata store;
// notifications only spare it from polling.
package handoff

import (
	"context"

	"github.com/google/uuid"

	"trace-service/internal/storage"
)

// Notifier announces traces entering the awaiting-processing state.
type Notifier interface {
	TraceReady(ctx context.Context, id uuid.UUID) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) TraceReady(context.Context, uuid.UUID) error { return nil }

// RedisNotifier pushes trace ids onto a Redis list consumed by the daemon.
type RedisNotifier struct {
	client *storage.RedisClient
	queue  string
}

// NewRedisNotifier creates a notifier writing to the given list key.
func NewRedisNotifier(client *storage.RedisClient, queue string) *RedisNotifier {
	return &RedisNotifier{client: client, queue: queue}
}

// TraceReady enqueues id.
func (n *RedisNotifier) TraceReady(ctx context.Context, id uuid.UUID) error {
	return n.client.LPush(ctx, n.queue, id.String())
}
