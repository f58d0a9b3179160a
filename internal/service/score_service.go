package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// finalizeAttempt recomputes and overwrites the attempt's aggregate score from
// its current answers. Status and end time are left alone.
func finalizeAttempt(ctx context.Context, q repository.Querier, a *model.Attempt, totalMarks float64, now time.Time) error {
	answers, err := q.ListAnswers(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("list answers: %w", err)
	}
	total, pct := ComputeScore(answers, totalMarks)
	if err := q.UpdateAttemptScore(ctx, a.ID, total, pct, now); err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	a.TotalScore, a.Percentage, a.FinalizedAt = total, pct, &now
	return nil
}

// ScoreService re-finalizes attempts after late essay grading.
type ScoreService struct {
	store repository.Store
	exams ExamProvider
	log   zerolog.Logger
	now   func() time.Time
}

// NewScoreService creates a new ScoreService.
func NewScoreService(store repository.Store, exams ExamProvider, log zerolog.Logger) *ScoreService {
	return &ScoreService{
		store: store,
		exams: exams,
		log:   log.With().Str("component", "score_service").Logger(),
		now:   time.Now,
	}
}

// Finalize recomputes total score and percentage of a terminal attempt.
func (s *ScoreService) Finalize(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	var out *model.Attempt
	err := s.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		a, err := q.GetAttemptForUpdate(ctx, attemptID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("get attempt: %w", err)
		}
		if !a.Status.IsTerminal() {
			return ErrAttemptNotTerminal
		}

		view, err := s.exams.Get(ctx, a.Ref())
		if err != nil {
			return err
		}
		if err := finalizeAttempt(ctx, q, a, view.TotalMarks, s.now()); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", out.ID.String()).
		Float64("total_score", out.TotalScore).
		Float64("percentage", out.Percentage).
		Msg("Attempt re-finalized")
	return out, nil
}
