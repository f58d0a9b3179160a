package service

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

/* ---------------- In-memory fakes for repository.Store and friends ---------------- */

// fakeStore keeps everything in memory. WithinTx holds txMu for the whole
// transaction, which stands in for PostgreSQL row locks, and rolls back on
// error.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	attempts map[uuid.UUID]model.Attempt
	answers  []model.Answer
	records  []model.ResultRecord
	events   []model.IntegrityEvent

	submitCalls  int
	hideOpenOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: map[uuid.UUID]model.Attempt{}}
}

type fakeSnapshot struct {
	attempts map[uuid.UUID]model.Attempt
	answers  []model.Answer
	records  []model.ResultRecord
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := fakeSnapshot{
		attempts: make(map[uuid.UUID]model.Attempt, len(s.attempts)),
		answers:  slices.Clone(s.answers),
		records:  slices.Clone(s.records),
	}
	for k, v := range s.attempts {
		snap.attempts[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.attempts, s.answers, s.records = snap.attempts, snap.answers, snap.records
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) put(a model.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a
}

func (s *fakeStore) attempt(t *testing.T, id uuid.UUID) model.Attempt {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		t.Fatalf("attempt %s not in store", id)
	}
	return a
}

func (s *fakeStore) GetAttempt(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s *fakeStore) GetAttemptForUpdate(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return s.GetAttempt(ctx, id)
}

func isOpen(st model.AttemptStatus) bool {
	return st == model.AttemptStatusNotStarted || st == model.AttemptStatusInProgress
}

func (s *fakeStore) FindOpenAttempt(_ context.Context, studentID int, ref model.ExamRef) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideOpenOnce {
		s.hideOpenOnce = false
		return nil, repository.ErrNotFound
	}
	for _, a := range s.attempts {
		if a.StudentID == studentID && a.Ref() == ref && isOpen(a.Status) {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) CountTerminalAttempts(_ context.Context, studentID int, ref model.ExamRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.StudentID == studentID && a.Ref() == ref && a.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CreateAttempt(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.attempts {
		if other.StudentID == a.StudentID && other.Ref() == a.Ref() && isOpen(other.Status) {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	s.attempts[a.ID] = *a
	return nil
}

func (s *fakeStore) ActivateAttempt(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.attempts[a.ID]
	if !ok || cur.Status != model.AttemptStatusNotStarted {
		return repository.ErrNotFound
	}
	a.Status = model.AttemptStatusInProgress
	s.attempts[a.ID] = *a
	return nil
}

func (s *fakeStore) MarkAttemptSubmitted(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.attempts[a.ID]
	if !ok || cur.Status != model.AttemptStatusInProgress {
		return repository.ErrNotFound
	}
	cur.Status = a.Status
	cur.SubmitTrigger = a.SubmitTrigger
	cur.EndTime = a.EndTime
	cur.TimeTakenSeconds = a.TimeTakenSeconds
	s.attempts[a.ID] = cur
	s.submitCalls++
	return nil
}

func (s *fakeStore) UpdateAttemptScore(_ context.Context, id uuid.UUID, total, percentage float64, finalizedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.attempts[id]
	cur.TotalScore, cur.Percentage, cur.FinalizedAt = total, percentage, &finalizedAt
	s.attempts[id] = cur
	return nil
}

func (s *fakeStore) IncrementTabSwitches(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.attempts[id]
	if !ok || cur.Status != model.AttemptStatusInProgress {
		return 0, repository.ErrNotFound
	}
	cur.TabSwitches++
	s.attempts[id] = cur
	return cur.TabSwitches, nil
}

func (s *fakeStore) ListExpiredAttempts(_ context.Context, now time.Time, grace time.Duration, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, a := range s.attempts {
		if a.Status == model.AttemptStatusInProgress && a.Deadline().Add(grace).Before(now) {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *fakeStore) ListAttempts(_ context.Context, f model.AttemptFilter) ([]model.AttemptSummary, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []model.AttemptSummary
	for _, a := range s.attempts {
		if a.Ref() != f.Ref || (f.Status != nil && a.Status != *f.Status) {
			continue
		}
		all = append(all, model.AttemptSummary{
			AttemptID: a.ID, StudentID: a.StudentID, AttemptNumber: a.AttemptNumber, Status: a.Status,
			TotalScore: a.TotalScore, Percentage: a.Percentage, TabSwitches: a.TabSwitches,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StudentID != all[j].StudentID {
			return all[i].StudentID < all[j].StudentID
		}
		return all[i].AttemptNumber < all[j].AttemptNumber
	})
	start := min((f.Page-1)*f.PerPage, len(all))
	end := min(start+f.PerPage, len(all))
	return all[start:end], int64(len(all)), nil
}

func (s *fakeStore) ListAttemptOutcomes(_ context.Context, ref model.ExamRef) ([]repository.AttemptOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.AttemptOutcome
	for _, a := range s.attempts {
		if a.Ref() == ref {
			out = append(out, repository.AttemptOutcome{
				Status: a.Status, Percentage: a.Percentage, TabSwitches: a.TabSwitches, Finalized: a.FinalizedAt != nil,
			})
		}
	}
	return out, nil
}

func (s *fakeStore) findAnswer(attemptID, questionID uuid.UUID) int {
	for i, a := range s.answers {
		if a.AttemptID == attemptID && a.QuestionID == questionID {
			return i
		}
	}
	return -1
}

func (s *fakeStore) UpsertAnswer(_ context.Context, a *model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findAnswer(a.AttemptID, a.QuestionID); i >= 0 {
		cur := s.answers[i]
		a.ID, a.IsFlagged, a.CreatedAt = cur.ID, cur.IsFlagged, cur.CreatedAt
		a.GradedBy, a.GradedAt = nil, nil
		s.answers[i] = *a
		return nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	s.answers = append(s.answers, *a)
	return nil
}

func (s *fakeStore) SetAnswerFlag(_ context.Context, attemptID, questionID uuid.UUID, flagged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findAnswer(attemptID, questionID); i >= 0 {
		s.answers[i].IsFlagged = flagged
		return nil
	}
	s.answers = append(s.answers, model.Answer{
		ID: uuid.New(), AttemptID: attemptID, QuestionID: questionID, IsFlagged: flagged, CreatedAt: time.Now(),
	})
	return nil
}

func (s *fakeStore) GetAnswer(_ context.Context, id uuid.UUID) (*model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.answers {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) GetAnswerForUpdate(ctx context.Context, id uuid.UUID) (*model.Answer, error) {
	return s.GetAnswer(ctx, id)
}

func (s *fakeStore) UpdateAnswerGrade(_ context.Context, a *model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.answers {
		if s.answers[i].ID == a.ID {
			s.answers[i].MarksObtained = a.MarksObtained
			s.answers[i].IsCorrect = a.IsCorrect
			s.answers[i].GradedBy = a.GradedBy
			s.answers[i].GradedAt = a.GradedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *fakeStore) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Answer
	for _, a := range s.answers {
		if a.AttemptID == attemptID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ListUngradedAnswers(_ context.Context, ref model.ExamRef, questionIDs []uuid.UUID) ([]model.PendingEssay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PendingEssay
	for _, ans := range s.answers {
		a := s.attempts[ans.AttemptID]
		if a.Ref() != ref || !a.Status.IsTerminal() || ans.GradedAt != nil || !slices.Contains(questionIDs, ans.QuestionID) {
			continue
		}
		out = append(out, model.PendingEssay{
			AnswerID: ans.ID, AttemptID: a.ID, StudentID: a.StudentID, QuestionID: ans.QuestionID, AnswerText: ans.AnswerText,
		})
	}
	return out, nil
}

func (s *fakeStore) ListIntegrityEvents(_ context.Context, attemptID uuid.UUID) ([]model.IntegrityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.IntegrityEvent{}
	for _, e := range s.events {
		if e.AttemptID == attemptID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) GetResultRecordForUpdate(_ context.Context, studentID, subjectID, termID int) (*model.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.StudentID == studentID && r.SubjectID == subjectID && r.TermID == termID {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) UpdateResultRecord(_ context.Context, r *model.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == r.ID {
			s.records[i] = *r
			return nil
		}
	}
	return repository.ErrNotFound
}

// fakeExams serves fixed views.
type fakeExams struct {
	views map[model.ExamRef]*model.ExamView
}

func (f *fakeExams) Get(_ context.Context, ref model.ExamRef) (*model.ExamView, error) {
	v, ok := f.views[ref]
	if !ok {
		return nil, ErrExamNotFound
	}
	return v, nil
}

type fakeHeartbeats struct {
	mu    sync.Mutex
	beats map[uuid.UUID]repository.Beat
}

func newFakeHeartbeats() *fakeHeartbeats {
	return &fakeHeartbeats{beats: map[uuid.UUID]repository.Beat{}}
}

func (f *fakeHeartbeats) Touch(_ context.Context, id uuid.UUID, b repository.Beat) (*repository.Beat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.beats[id]
	f.beats[id] = b
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

func (f *fakeHeartbeats) LastSeen(_ context.Context, id uuid.UUID) (*repository.Beat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.beats[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs map[string][][]byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string][][]byte{}}
}

func (f *fakeQueue) Push(_ context.Context, queue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[queue] = append(f.jobs[queue], data)
	return nil
}

func (f *fakeQueue) len(queue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs[queue])
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

/* ---------------- Fixtures ---------------- */

var testEpoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func choiceQuestion(marks float64, correct string, options ...string) model.Question {
	cs := model.ChoiceSet{}
	for _, o := range options {
		cs.Options = append(cs.Options, model.Option{ID: o, Text: "option " + o, IsCorrect: o == correct})
	}
	return model.Question{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, Text: "pick one", Marks: marks, Payload: cs}
}

func fillQuestion(marks float64, answer string) model.Question {
	return model.Question{ID: uuid.New(), Type: model.QuestionTypeFillBlank, Text: "fill in", Marks: marks,
		Payload: model.TextAnswer{CorrectAnswer: answer}}
}

func essayQuestion(marks float64) model.Question {
	return model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay, Text: "explain", Marks: marks, Payload: model.Essay{}}
}

func newDefinition(questions ...model.Question) model.ExamDefinition {
	def := model.ExamDefinition{
		ID:              uuid.New(),
		Title:           "Physics midterm",
		DurationMinutes: 60,
		AttemptsAllowed: 1,
		PassMark:        50,
		AutoSubmit:      true,
		Status:          model.ExamStatusPublished,
	}
	for i, q := range questions {
		def.Questions = append(def.Questions, model.QuestionRef{QuestionID: q.ID, Order: i + 1})
	}
	return def
}

func directView(def model.ExamDefinition, questions ...model.Question) *model.ExamView {
	return model.NewExamView(model.DirectExam(def.ID), def, nil, questions)
}

type harness struct {
	store      *fakeStore
	exams      *fakeExams
	heartbeats *fakeHeartbeats
	queue      *fakeQueue
	clock      *fakeClock
	cfg        *config.Config

	attempts  *AttemptService
	answers   *AnswerService
	scores    *ScoreService
	ledger    *LedgerService
	integrity *IntegrityService
	reports   *ReportService
}

func newHarness(views ...*model.ExamView) *harness {
	h := &harness{
		store:      newFakeStore(),
		exams:      &fakeExams{views: map[model.ExamRef]*model.ExamView{}},
		heartbeats: newFakeHeartbeats(),
		queue:      newFakeQueue(),
		clock:      &fakeClock{t: testEpoch},
		cfg: &config.Config{
			SubmitGrace:        10 * time.Second,
			LedgerSyncOnSubmit: true,
		},
	}
	for _, v := range views {
		h.exams.views[v.Ref] = v
	}

	log := zerolog.Nop()
	h.ledger = NewLedgerService(h.store, h.exams, h.queue, log)
	h.ledger.now = h.clock.Now
	h.attempts = NewAttemptService(h.store, h.exams, h.heartbeats, h.ledger, h.cfg, log)
	h.attempts.now = h.clock.Now
	h.answers = NewAnswerService(h.store, h.exams, h.cfg, log)
	h.answers.now = h.clock.Now
	h.scores = NewScoreService(h.store, h.exams, log)
	h.scores.now = h.clock.Now
	h.integrity = NewIntegrityService(h.store, h.heartbeats, h.queue, log)
	h.integrity.now = h.clock.Now
	h.reports = NewReportService(h.store, h.exams)
	return h
}

func (h *harness) start(t *testing.T, studentID int, ref model.ExamRef) *model.Attempt {
	t.Helper()
	a, _, err := h.attempts.StartAttempt(context.Background(), StartAttemptInput{
		StudentID: studentID, Ref: ref, IPAddress: "10.0.0.5", UserAgent: "Chrome/120",
	})
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	return a
}

func (h *harness) answer(t *testing.T, a *model.Attempt, questionID uuid.UUID, value string) *model.Answer {
	t.Helper()
	ans, err := h.answers.RecordAnswer(context.Background(), RecordAnswerInput{
		AttemptID: a.ID, StudentID: a.StudentID, QuestionID: questionID, Answer: value, TimeSpentSeconds: 30,
	})
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	return ans
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
