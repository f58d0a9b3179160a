package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ExamCacheRepository keeps resolved ExamViews in Redis as JSON.
type ExamCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewExamCacheRepository creates a new ExamCacheRepository.
func NewExamCacheRepository(rdb *redis.Client, ttl time.Duration) *ExamCacheRepository {
	return &ExamCacheRepository{rdb: rdb, ttl: ttl}
}

func viewKey(ref model.ExamRef) string {
	return config.CacheKey.ExamViewKey(string(ref.Kind), ref.ID.String())
}

// Get returns the cached view, or ErrNotFound on a miss.
func (r *ExamCacheRepository) Get(ctx context.Context, ref model.ExamRef) (*model.ExamView, error) {
	data, err := r.rdb.Get(ctx, viewKey(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get exam view: %w", err)
	}

	var v model.ExamView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal exam view: %w", err)
	}
	return &v, nil
}

// Set caches a view.
func (r *ExamCacheRepository) Set(ctx context.Context, v *model.ExamView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal exam view: %w", err)
	}
	return r.rdb.Set(ctx, viewKey(v.Ref), data, r.ttl).Err()
}

// Delete evicts a cached view.
func (r *ExamCacheRepository) Delete(ctx context.Context, ref model.ExamRef) error {
	return r.rdb.Del(ctx, viewKey(ref)).Err()
}
