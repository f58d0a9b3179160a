package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// RecordAnswerInput is one answer submission from a student.
type RecordAnswerInput struct {
	AttemptID        uuid.UUID
	StudentID        int
	QuestionID       uuid.UUID
	Answer           string
	TimeSpentSeconds int
}

// AnswerService records and grades answers.
type AnswerService struct {
	store repository.Store
	exams ExamProvider
	grace time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(store repository.Store, exams ExamProvider, cfg *config.Config, log zerolog.Logger) *AnswerService {
	return &AnswerService{
		store: store,
		exams: exams,
		grace: cfg.SubmitGrace,
		log:   log.With().Str("component", "answer_service").Logger(),
		now:   time.Now,
	}
}

// lockWritable locks the student's attempt and checks that answers may still
// be written to it. The attempt lock serializes answer writes with Submit, so
// nothing lands after the score is finalized.
func (s *AnswerService) lockWritable(ctx context.Context, q repository.Querier, attemptID uuid.UUID, studentID int) (*model.Attempt, *model.ExamView, error) {
	a, err := q.GetAttemptForUpdate(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.StudentID != studentID {
		return nil, nil, ErrAttemptNotFound
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, nil, ErrAttemptNotActive
	}
	if s.now().After(a.Deadline().Add(s.grace)) {
		return nil, nil, ErrSubmissionWindowClosed
	}

	view, err := s.exams.Get(ctx, a.Ref())
	if err != nil {
		return nil, nil, err
	}
	return a, view, nil
}

// RecordAnswer grades and stores an answer, overwriting any earlier answer
// to the same question.
func (s *AnswerService) RecordAnswer(ctx context.Context, in RecordAnswerInput) (*model.Answer, error) {
	var out *model.Answer
	err := s.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		a, view, err := s.lockWritable(ctx, q, in.AttemptID, in.StudentID)
		if err != nil {
			return err
		}

		question, ok := view.Question(in.QuestionID)
		if !ok {
			return ErrQuestionNotInExam
		}
		marks, _ := view.QuestionMarks(in.QuestionID)
		g := Grade(question, marks, in.Answer)

		ans := &model.Answer{
			AttemptID:        a.ID,
			QuestionID:       in.QuestionID,
			AnswerText:       in.Answer,
			IsCorrect:        g.IsCorrect,
			MarksObtained:    g.Marks,
			TimeSpentSeconds: max(in.TimeSpentSeconds, 0),
		}
		if err := q.UpsertAnswer(ctx, ans); err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}
		out = ans
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ToggleFlag marks or unmarks a question for review. It has no effect on
// scoring.
func (s *AnswerService) ToggleFlag(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID, flagged bool) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		_, view, err := s.lockWritable(ctx, q, attemptID, studentID)
		if err != nil {
			return err
		}
		if _, ok := view.Question(questionID); !ok {
			return ErrQuestionNotInExam
		}
		if err := q.SetAnswerFlag(ctx, attemptID, questionID, flagged); err != nil {
			return fmt.Errorf("set flag: %w", err)
		}
		return nil
	})
}

// GradeEssay records a grader's marks for an essay answer on a terminal
// attempt. The attempt score is only recomputed by an explicit Finalize.
func (s *AnswerService) GradeEssay(ctx context.Context, answerID uuid.UUID, marks float64, graderID int) (*model.Answer, error) {
	if math.IsNaN(marks) || math.IsInf(marks, 0) || marks < 0 {
		return nil, ErrInvalidMarks
	}

	var out *model.Answer
	err := s.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		// Lock order is attempt then answer, the same as RecordAnswer.
		probe, err := q.GetAnswer(ctx, answerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAnswerNotFound
			}
			return fmt.Errorf("get answer: %w", err)
		}
		a, err := q.GetAttemptForUpdate(ctx, probe.AttemptID)
		if err != nil {
			return fmt.Errorf("get attempt: %w", err)
		}
		if !a.Status.IsTerminal() {
			return ErrAttemptNotTerminal
		}
		ans, err := q.GetAnswerForUpdate(ctx, answerID)
		if err != nil {
			return fmt.Errorf("lock answer: %w", err)
		}

		view, err := s.exams.Get(ctx, a.Ref())
		if err != nil {
			return err
		}
		question, ok := view.Question(ans.QuestionID)
		if !ok {
			return ErrQuestionNotInExam
		}
		if question.Type != model.QuestionTypeEssay {
			return ErrNotEssayQuestion
		}
		maxMarks, _ := view.QuestionMarks(ans.QuestionID)
		if marks > maxMarks {
			return ErrInvalidMarks
		}

		now := s.now()
		correct := marks == maxMarks
		ans.MarksObtained = marks
		ans.IsCorrect = &correct
		ans.GradedBy = &graderID
		ans.GradedAt = &now
		if err := q.UpdateAnswerGrade(ctx, ans); err != nil {
			return fmt.Errorf("update grade: %w", err)
		}
		out = ans
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("answer_id", answerID.String()).
		Str("attempt_id", out.AttemptID.String()).
		Int("grader_id", graderID).
		Float64("marks", marks).
		Msg("Essay graded")
	return out, nil
}

// ListPendingEssays returns ungraded essay answers on finished attempts.
func (s *AnswerService) ListPendingEssays(ctx context.Context, ref model.ExamRef) ([]model.PendingEssay, error) {
	view, err := s.exams.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	var essays []uuid.UUID
	for _, id := range view.OrderedQuestionIDs() {
		if q, ok := view.Questions[id]; ok && q.Type == model.QuestionTypeEssay {
			essays = append(essays, id)
		}
	}

	pending, err := s.store.ListUngradedAnswers(ctx, ref, essays)
	if err != nil {
		return nil, fmt.Errorf("list ungraded answers: %w", err)
	}
	for i := range pending {
		q := view.Questions[pending[i].QuestionID]
		pending[i].QuestionText = q.Text
		pending[i].MaxMarks, _ = view.QuestionMarks(q.ID)
	}
	if pending == nil {
		pending = []model.PendingEssay{}
	}
	return pending, nil
}
