package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
)

// Beat is the last heartbeat recorded for an attempt.
type Beat struct {
	At        time.Time `json:"at"`
	IPAddress string    `json:"ip"`
	UserAgent string    `json:"ua"`
}

// HeartbeatRepository stores attempt heartbeats in Redis. Keys expire after
// ttl, so a missing key means the client has been silent at least that long.
type HeartbeatRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewHeartbeatRepository creates a new HeartbeatRepository.
func NewHeartbeatRepository(rdb *redis.Client, ttl time.Duration) *HeartbeatRepository {
	return &HeartbeatRepository{rdb: rdb, ttl: ttl}
}

// Touch stores b and returns the beat it replaced, or nil if none was live.
func (r *HeartbeatRepository) Touch(ctx context.Context, attemptID uuid.UUID, b Beat) (*Beat, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	prev, err := r.rdb.SetArgs(ctx, config.CacheKey.AttemptHeartbeatKey(attemptID.String()), data,
		redis.SetArgs{TTL: r.ttl, Get: true}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("set heartbeat: %w", err)
	}
	return decodeBeat([]byte(prev))
}

// LastSeen returns the live heartbeat of an attempt, or nil if it expired.
func (r *HeartbeatRepository) LastSeen(ctx context.Context, attemptID uuid.UUID) (*Beat, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.AttemptHeartbeatKey(attemptID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get heartbeat: %w", err)
	}
	return decodeBeat(data)
}

func decodeBeat(data []byte) (*Beat, error) {
	var b Beat
	if err := json.Unmarshal(data, &b); err != nil {
		// Older plain-timestamp values are treated as absent.
		return nil, nil
	}
	return &b, nil
}
