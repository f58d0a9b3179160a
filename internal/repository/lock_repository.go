package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRepository provides best-effort leader locks across server replicas.
type LockRepository struct {
	rdb   *redis.Client
	token string
}

// NewLockRepository creates a LockRepository with a per-process owner token.
func NewLockRepository(rdb *redis.Client) *LockRepository {
	return &LockRepository{rdb: rdb, token: uuid.NewString()}
}

// Acquire takes key for ttl. It returns false if another process holds it.
func (r *LockRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, r.token, ttl).Result()
}

// Release frees key if this process still owns it.
func (r *LockRepository) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.rdb, []string{key}, r.token).Err()
}
