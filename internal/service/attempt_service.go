package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// StartAttemptInput carries everything StartAttempt needs; nothing is read
// from an ambient session.
type StartAttemptInput struct {
	StudentID   int
	Ref         model.ExamRef
	IPAddress   string
	UserAgent   string
	BrowserInfo json.RawMessage
}

// ledgerSyncer is the post-submit hook into the result ledger.
type ledgerSyncer interface {
	SyncOrEnqueue(ctx context.Context, attemptID uuid.UUID)
}

// AttemptService owns the attempt state machine:
// not_started → in_progress → completed | submitted | auto_submitted.
type AttemptService struct {
	store        repository.Store
	exams        ExamProvider
	heartbeats   HeartbeatStore
	ledger       ledgerSyncer
	grace        time.Duration
	syncOnSubmit bool
	log          zerolog.Logger
	now          func() time.Time
}

// NewAttemptService creates a new AttemptService. ledger may be nil.
func NewAttemptService(
	store repository.Store,
	exams ExamProvider,
	heartbeats HeartbeatStore,
	ledger ledgerSyncer,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		store:        store,
		exams:        exams,
		heartbeats:   heartbeats,
		ledger:       ledger,
		grace:        cfg.SubmitGrace,
		syncOnSubmit: cfg.LedgerSyncOnSubmit,
		log:          log.With().Str("component", "attempt_service").Logger(),
		now:          time.Now,
	}
}

// StartAttempt returns the student's in-progress attempt for the reference,
// or creates one. resumed reports that an existing attempt was returned.
func (s *AttemptService) StartAttempt(ctx context.Context, in StartAttemptInput) (attempt *model.Attempt, resumed bool, err error) {
	view, err := s.exams.Get(ctx, in.Ref)
	if err != nil {
		return nil, false, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		open, err := q.FindOpenAttempt(ctx, in.StudentID, in.Ref)
		switch {
		case err == nil && open.Status == model.AttemptStatusInProgress:
			attempt, resumed = open, true
			return nil
		case err == nil:
			// Pre-provisioned not_started row.
			if !view.Available(s.now()) {
				return ErrExamNotAvailable
			}
			s.prepare(open, view, in)
			if err := q.ActivateAttempt(ctx, open); err != nil {
				return fmt.Errorf("activate attempt: %w", err)
			}
			attempt = open
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("find open attempt: %w", err)
		}

		if !view.Available(s.now()) {
			return ErrExamNotAvailable
		}

		used, err := q.CountTerminalAttempts(ctx, in.StudentID, in.Ref)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if used >= max(view.Definition.AttemptsAllowed, 1) {
			return ErrAttemptsExhausted
		}

		a := &model.Attempt{
			ID:            uuid.New(),
			StudentID:     in.StudentID,
			AttemptNumber: used + 1,
		}
		a.SetRef(in.Ref)
		s.prepare(a, view, in)

		err = q.CreateAttempt(ctx, a)
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost the race to a concurrent start; the winner has committed
			// by the time ON CONFLICT gives up, so it is visible here.
			winner, ferr := q.FindOpenAttempt(ctx, in.StudentID, in.Ref)
			if ferr != nil {
				return fmt.Errorf("concurrent start detected, but fetch failed: %w", ferr)
			}
			attempt, resumed = winner, true
			return nil
		}
		if err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		attempt = a
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if _, err := s.heartbeats.Touch(ctx, attempt.ID, repository.Beat{
		At: s.now(), IPAddress: in.IPAddress, UserAgent: in.UserAgent,
	}); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to stamp heartbeat")
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Int("student_id", in.StudentID).
		Str("ref", in.Ref.String()).
		Bool("resumed", resumed).
		Msg("Attempt started")
	return attempt, resumed, nil
}

// prepare stamps start time, frozen duration and frozen orders onto a.
func (s *AttemptService) prepare(a *model.Attempt, view *model.ExamView, in StartAttemptInput) {
	start := s.now()
	a.Status = model.AttemptStatusInProgress
	a.StartTime = &start
	a.DurationMinutes = view.Definition.DurationMinutes
	a.IPAddress = in.IPAddress
	a.UserAgent = in.UserAgent
	a.BrowserInfo = in.BrowserInfo
	a.QuestionOrder, a.OptionOrder = freezeOrder(view, a.ID)
}

// freezeOrder fixes question and option order for one attempt. Shuffles are
// seeded from the attempt id, so the same attempt always gets the same order.
func freezeOrder(view *model.ExamView, attemptID uuid.UUID) ([]uuid.UUID, map[string][]string) {
	rng := rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(attemptID[:8]),
		binary.BigEndian.Uint64(attemptID[8:]),
	))

	ids := make([]uuid.UUID, 0, len(view.Definition.Questions))
	for _, id := range view.OrderedQuestionIDs() {
		if _, ok := view.Questions[id]; ok {
			ids = append(ids, id)
		}
	}
	if view.Definition.RandomizeQuestions {
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}

	options := make(map[string][]string)
	for _, id := range ids {
		cs, ok := view.Questions[id].Payload.(model.ChoiceSet)
		if !ok {
			continue
		}
		order := make([]string, len(cs.Options))
		for i, o := range cs.Options {
			order[i] = o.ID
		}
		if view.Definition.RandomizeOptions {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		options[id.String()] = order
	}
	return ids, options
}

// SubmitAsStudent submits on behalf of the attempt's owner.
func (s *AttemptService) SubmitAsStudent(ctx context.Context, attemptID uuid.UUID, studentID int, trigger model.SubmitTrigger) (*model.Attempt, error) {
	if _, err := s.owned(ctx, attemptID, studentID); err != nil {
		return nil, err
	}
	return s.Submit(ctx, attemptID, trigger)
}

// Submit moves an in-progress attempt to its terminal status and finalizes
// the score in the same transaction. Submitting a terminal attempt returns
// it unchanged, so concurrent callers (client timer, sweep, retries) all
// succeed and exactly one performs the transition.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, trigger model.SubmitTrigger) (*model.Attempt, error) {
	if !trigger.Valid() {
		return nil, ErrInvalidTrigger
	}

	var out *model.Attempt
	transitioned := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		a, err := q.GetAttemptForUpdate(ctx, attemptID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("get attempt: %w", err)
		}
		if a.Status.IsTerminal() {
			out = a
			return nil
		}
		if a.Status != model.AttemptStatusInProgress {
			return ErrAttemptNotActive
		}

		view, err := s.exams.Get(ctx, a.Ref())
		if err != nil {
			return err
		}

		now := s.now()
		if trigger == model.SubmitTriggerManual && now.After(a.Deadline().Add(s.grace)) {
			return ErrSubmissionWindowClosed
		}

		// A manual submit inside the grace window still overran the clock.
		switch {
		case trigger != model.SubmitTriggerManual, now.After(a.Deadline()):
			a.Status = model.AttemptStatusAutoSubmitted
		case view.Definition.ShowResultsImmediately:
			a.Status = model.AttemptStatusCompleted
		default:
			a.Status = model.AttemptStatusSubmitted
		}
		taken := max(int(now.Sub(*a.StartTime).Seconds()), 0)
		a.EndTime = &now
		a.TimeTakenSeconds = &taken
		a.SubmitTrigger = &trigger

		if err := q.MarkAttemptSubmitted(ctx, a); err != nil {
			return fmt.Errorf("mark submitted: %w", err)
		}
		if err := finalizeAttempt(ctx, q, a, view.TotalMarks, now); err != nil {
			return err
		}

		out = a
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.log.Info().
			Str("attempt_id", out.ID.String()).
			Int("student_id", out.StudentID).
			Str("trigger", string(trigger)).
			Str("status", string(out.Status)).
			Float64("total_score", out.TotalScore).
			Float64("percentage", out.Percentage).
			Msg("Attempt submitted")

		if s.syncOnSubmit && s.ledger != nil {
			s.ledger.SyncOrEnqueue(context.WithoutCancel(ctx), out.ID)
		}
	}
	return out, nil
}

// GetPaper returns the attempt's questions in frozen order without answer keys.
func (s *AttemptService) GetPaper(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptPaper, error) {
	a, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AttemptStatusNotStarted {
		return nil, ErrAttemptNotActive
	}

	view, err := s.exams.Get(ctx, a.Ref())
	if err != nil {
		return nil, err
	}

	paper := &model.AttemptPaper{
		AttemptID:  a.ID,
		Title:      view.Definition.Title,
		Duration:   a.DurationMinutes,
		Deadline:   a.Deadline(),
		AutoSubmit: view.Definition.AutoSubmit,
		Proctoring: view.Definition.Proctoring,
		Questions:  make([]model.QuestionForStudent, 0, len(a.QuestionOrder)),
	}
	for i, id := range a.QuestionOrder {
		q, ok := view.Question(id)
		if !ok {
			continue
		}
		marks, _ := view.QuestionMarks(id)
		paper.Questions = append(paper.Questions, model.QuestionForStudent{
			ID:               q.ID,
			Type:             q.Type,
			Text:             q.Text,
			Marks:            marks,
			TimeLimitSeconds: q.TimeLimitSeconds,
			Options:          studentOptions(q, a.OptionOrder[id.String()]),
			OrderNum:         i + 1,
		})
	}
	return paper, nil
}

// studentOptions strips correctness flags and applies the frozen order.
// Options added after the attempt started go last.
func studentOptions(q model.Question, frozen []string) []model.OptionForStudent {
	cs, ok := q.Payload.(model.ChoiceSet)
	if !ok {
		return nil
	}
	byID := make(map[string]model.Option, len(cs.Options))
	for _, o := range cs.Options {
		byID[o.ID] = o
	}

	out := make([]model.OptionForStudent, 0, len(cs.Options))
	for _, id := range frozen {
		if o, ok := byID[id]; ok {
			out = append(out, model.OptionForStudent{ID: o.ID, Text: o.Text})
			delete(byID, id)
		}
	}
	for _, o := range cs.Options {
		if _, left := byID[o.ID]; left {
			out = append(out, model.OptionForStudent{ID: o.ID, Text: o.Text})
		}
	}
	return out
}

// GetState returns what a reloaded client needs: saved answers, flags and
// the remaining time.
func (s *AttemptService) GetState(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptState, error) {
	a, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	answers, err := s.store.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	state := &model.AttemptState{
		AttemptID:   a.ID,
		Status:      a.Status,
		Answers:     make(map[string]string, len(answers)),
		Flagged:     []uuid.UUID{},
		TabSwitches: a.TabSwitches,
	}
	for _, ans := range answers {
		if ans.AnswerText != "" {
			state.Answers[ans.QuestionID.String()] = ans.AnswerText
		}
		if ans.IsFlagged {
			state.Flagged = append(state.Flagged, ans.QuestionID)
		}
	}
	if a.Status == model.AttemptStatusInProgress {
		state.RemainingTime = max(a.Deadline().Sub(s.now()).Seconds(), 0)
	}
	return state, nil
}

// owned loads an attempt and hides it from anyone but its student.
func (s *AttemptService) owned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	return ownedAttempt(ctx, s.store, attemptID, studentID)
}

func ownedAttempt(ctx context.Context, q repository.Querier, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := q.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}
