package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
)

// BeaconRepository counts client beacons per attempt in fixed Redis windows.
type BeaconRepository struct {
	rdb *redis.Client
}

// NewBeaconRepository creates a new BeaconRepository.
func NewBeaconRepository(rdb *redis.Client) *BeaconRepository {
	return &BeaconRepository{rdb: rdb}
}

// Hit records one beacon for attemptID and returns the count in the current
// window.
func (r *BeaconRepository) Hit(ctx context.Context, attemptID string, window time.Duration) (int64, error) {
	slot := time.Now().Unix() / int64(window.Seconds())
	key := config.CacheKey.AttemptBeaconRateKey(attemptID, slot)

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
