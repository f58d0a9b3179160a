package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// ExamProvider resolves exam references. ExamCatalog is the production
// implementation.
type ExamProvider interface {
	Get(ctx context.Context, ref model.ExamRef) (*model.ExamView, error)
}

type examSource interface {
	LoadView(ctx context.Context, ref model.ExamRef) (*model.ExamView, error)
	ListLiveRefs(ctx context.Context) ([]model.ExamRef, error)
}

type examViewCache interface {
	Get(ctx context.Context, ref model.ExamRef) (*model.ExamView, error)
	Set(ctx context.Context, v *model.ExamView) error
	Delete(ctx context.Context, ref model.ExamRef) error
}

// ExamCatalog serves read-only exam views, cached in Redis in front of
// PostgreSQL.
type ExamCatalog struct {
	source examSource
	cache  examViewCache
	log    zerolog.Logger
}

// NewExamCatalog creates a new ExamCatalog.
func NewExamCatalog(source examSource, cache examViewCache, log zerolog.Logger) *ExamCatalog {
	return &ExamCatalog{
		source: source,
		cache:  cache,
		log:    log.With().Str("component", "exam_catalog").Logger(),
	}
}

// Get returns the view for ref, loading and caching it on a miss.
func (c *ExamCatalog) Get(ctx context.Context, ref model.ExamRef) (*model.ExamView, error) {
	if !ref.Valid() {
		return nil, ErrExamNotFound
	}

	v, err := c.cache.Get(ctx, ref)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		// Redis trouble should not block exams; PostgreSQL is authoritative.
		c.log.Warn().Err(err).Str("ref", ref.String()).Msg("Exam cache read failed")
	}

	return c.load(ctx, ref)
}

func (c *ExamCatalog) load(ctx context.Context, ref model.ExamRef) (*model.ExamView, error) {
	v, err := c.source.LoadView(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam view: %w", err)
	}

	if err := c.cache.Set(ctx, v); err != nil {
		c.log.Warn().Err(err).Str("ref", ref.String()).Msg("Exam cache write failed")
	}
	return v, nil
}

// Refresh evicts the cached view and reloads it. Used after the definition
// changes in the authoring system.
func (c *ExamCatalog) Refresh(ctx context.Context, ref model.ExamRef) (*model.ExamView, error) {
	if !ref.Valid() {
		return nil, ErrExamNotFound
	}
	if err := c.cache.Delete(ctx, ref); err != nil {
		return nil, fmt.Errorf("evict exam view: %w", err)
	}
	v, err := c.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("ref", ref.String()).Float64("total_marks", v.TotalMarks).Msg("Cache refreshed")
	return v, nil
}

// Prewarm loads every live exam into Redis before traffic arrives.
func (c *ExamCatalog) Prewarm(ctx context.Context) error {
	refs, err := c.source.ListLiveRefs(ctx)
	if err != nil {
		return fmt.Errorf("list live exams: %w", err)
	}
	if len(refs) == 0 {
		c.log.Info().Msg("No live exams to prewarm")
		return nil
	}

	warmed := 0
	for _, ref := range refs {
		if _, err := c.load(ctx, ref); err != nil {
			c.log.Warn().Err(err).Str("ref", ref.String()).Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	c.log.Info().Int("warmed", warmed).Int("total", len(refs)).Msg("Prewarming complete")
	return nil
}
