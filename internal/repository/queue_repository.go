package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// QueueRepository pushes JSON jobs onto Redis lists consumed by the workers.
type QueueRepository struct {
	rdb *redis.Client
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(rdb *redis.Client) *QueueRepository {
	return &QueueRepository{rdb: rdb}
}

// Push appends v, JSON-encoded, to the tail of queue.
func (r *QueueRepository) Push(ctx context.Context, queue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return r.rdb.RPush(ctx, queue, data).Err()
}

// Ping checks the Redis connection.
func (r *QueueRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// QueueLengths reports the backlog of each queue in one round trip.
func (r *QueueRepository) QueueLengths(ctx context.Context, queues ...string) (map[string]int64, error) {
	pipe := r.rdb.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(queues))
	for _, q := range queues {
		cmds[q] = pipe.LLen(ctx, q)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue lengths: %w", err)
	}

	out := make(map[string]int64, len(queues))
	for q, cmd := range cmds {
		out[q] = cmd.Val()
	}
	return out, nil
}
