package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// LedgerService merges finalized CBT scores into the academic result ledger.
type LedgerService struct {
	store repository.Store
	exams ExamProvider
	queue JobQueue
	log   zerolog.Logger
	now   func() time.Time
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(store repository.Store, exams ExamProvider, queue JobQueue, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		store: store,
		exams: exams,
		queue: queue,
		log:   log.With().Str("component", "ledger_service").Logger(),
		now:   time.Now,
	}
}

// SyncToResultLedger writes the attempt's score into the student's result
// record for the exam's subject and term. The record is read, merged and
// written under a row lock so a concurrent manual edit is never half-applied.
func (s *LedgerService) SyncToResultLedger(ctx context.Context, attemptID uuid.UUID) (*model.ResultRecord, error) {
	var out *model.ResultRecord
	err := s.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		a, err := q.GetAttempt(ctx, attemptID)
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
		target := view.Ledger()
		if target == nil {
			return ErrLedgerNotConfigured
		}

		rec, err := q.GetResultRecordForUpdate(ctx, a.StudentID, target.SubjectID, target.TermID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrResultRecordMissing
			}
			return fmt.Errorf("get result record: %w", err)
		}

		ApplyCBTScore(rec, a.ID, a.TotalScore, view.TotalMarks, target.ExamScoreCeiling, s.now())
		if err := q.UpdateResultRecord(ctx, rec); err != nil {
			return fmt.Errorf("update result record: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("student_id", out.StudentID).
		Int("subject_id", out.SubjectID).
		Int("term_id", out.TermID).
		Float64("exam_score", *out.ExamScore).
		Msg("Result ledger synced")
	return out, nil
}

// ApplyCBTScore merges a CBT score into rec.
//   - the first CBT write snapshots a manual exam_score into manual_exam_score;
//     later writes leave the snapshot alone
//   - exam_score is the attempt score scaled from totalMarks onto ceiling
//   - total_score is ca_score plus exam_score
func ApplyCBTScore(rec *model.ResultRecord, attemptID uuid.UUID, total, totalMarks, ceiling float64, now time.Time) {
	if !rec.IsCBTExam && rec.ExamScore != nil {
		manual := *rec.ExamScore
		rec.ManualExamScore = &manual
	}

	var exam float64
	if totalMarks > 0 {
		exam = round2(total / totalMarks * ceiling)
	}
	var ca float64
	if rec.CAScore != nil {
		ca = *rec.CAScore
	}
	sum := round2(ca + exam)

	rec.ExamScore = &exam
	rec.TotalScore = &sum
	rec.IsCBTExam = true
	rec.CBTExamAttemptID = &attemptID
	rec.CBTSyncedAt = &now
}

// Retryable reports whether a failed sync may succeed later without anyone
// changing the exam or attempt.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrResultRecordMissing):
		return true
	case errors.Is(err, ErrLedgerNotConfigured),
		errors.Is(err, ErrAttemptNotTerminal),
		errors.Is(err, ErrAttemptNotFound),
		errors.Is(err, ErrExamNotFound):
		return false
	default:
		return true
	}
}

// RetryDelay is the backoff before retry number tries (1-based).
func RetryDelay(tries int) time.Duration {
	d := 5 * time.Second
	for i := 1; i < tries && d < 10*time.Minute; i++ {
		d *= 2
	}
	return min(d, 10*time.Minute)
}

// SyncOrEnqueue syncs right away and queues a retry when that fails for a
// transient reason. It never returns an error: the score is already durable
// on the attempt.
func (s *LedgerService) SyncOrEnqueue(ctx context.Context, attemptID uuid.UUID) {
	_, err := s.SyncToResultLedger(ctx, attemptID)
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrLedgerNotConfigured):
		s.log.Debug().Str("attempt_id", attemptID.String()).Msg("Exam has no ledger target, skipping sync")
		return
	case !Retryable(err):
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Ledger sync failed permanently")
		return
	}

	if qerr := s.Enqueue(ctx, model.LedgerSyncJob{AttemptID: attemptID.String()}); qerr != nil {
		s.log.Error().Err(qerr).Str("attempt_id", attemptID.String()).Msg("Failed to queue ledger sync retry")
		return
	}
	s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Ledger sync deferred to retry queue")
}

// Enqueue schedules the next try of job with backoff.
func (s *LedgerService) Enqueue(ctx context.Context, job model.LedgerSyncJob) error {
	job.Tries++
	job.NotBefore = s.now().Add(RetryDelay(job.Tries)).Unix()
	return s.queue.Push(ctx, config.WorkerKey.LedgerSyncRetryQueue, job)
}
