package model

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam definition.
// Definitions are authored elsewhere; this engine only reads them.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// ExamRefKind tells which identifier space an ExamRef belongs to.
type ExamRefKind string

const (
	ExamRefDirect    ExamRefKind = "direct"
	ExamRefScheduled ExamRefKind = "scheduled"
)

// ParseExamRefKind validates a kind coming from a URL segment.
func ParseExamRefKind(s string) (ExamRefKind, bool) {
	switch ExamRefKind(s) {
	case ExamRefDirect, ExamRefScheduled:
		return ExamRefKind(s), true
	}
	return "", false
}

// ExamRef points at either an exam definition (direct attempt) or an exam
// schedule (scheduled attempt). The two spaces are disjoint: attempts are
// never migrated between them.
type ExamRef struct {
	Kind ExamRefKind `json:"kind"`
	ID   uuid.UUID   `json:"id"`
}

// DirectExam returns a reference to an exam taken outside any schedule.
func DirectExam(examID uuid.UUID) ExamRef {
	return ExamRef{Kind: ExamRefDirect, ID: examID}
}

// ScheduledExam returns a reference to a scheduled exam instance.
func ScheduledExam(scheduleID uuid.UUID) ExamRef {
	return ExamRef{Kind: ExamRefScheduled, ID: scheduleID}
}

func (r ExamRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Valid reports whether the ref has a known kind and a non-nil id.
func (r ExamRef) Valid() bool {
	_, ok := ParseExamRefKind(string(r.Kind))
	return ok && r.ID != uuid.Nil
}

// QuestionRef places a question inside an exam definition.
// Marks > 0 overrides the question's own marks for this exam.
type QuestionRef struct {
	QuestionID uuid.UUID `json:"question_id"`
	Marks      float64   `json:"marks"`
	Order      int       `json:"order"`
}

// ExamDefinition is the static configuration of an exam.
type ExamDefinition struct {
	ID                     uuid.UUID     `json:"id"`
	Title                  string        `json:"title"`
	SubjectID              *int          `json:"subject_id,omitempty"`
	TermID                 *int          `json:"term_id,omitempty"`
	DurationMinutes        int           `json:"duration_minutes"`
	AttemptsAllowed        int           `json:"attempts_allowed"`
	RandomizeQuestions     bool          `json:"randomize_questions"`
	RandomizeOptions       bool          `json:"randomize_options"`
	PassMark               float64       `json:"pass_mark"`
	AutoSubmit             bool          `json:"auto_submit"`
	ShowResultsImmediately bool          `json:"show_results_immediately"`
	Proctoring             bool          `json:"proctoring"`
	ExamScoreCeiling       *float64      `json:"exam_score_ceiling,omitempty"`
	Status                 ExamStatus    `json:"status"`
	Questions              []QuestionRef `json:"questions"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// ExamSchedule is a time-boxed sitting of an exam definition.
type ExamSchedule struct {
	ID       uuid.UUID `json:"id"`
	ExamID   uuid.UUID `json:"exam_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	IsActive bool      `json:"is_active"`
}

// LedgerTarget says where a finalized score lands in the academic ledger.
type LedgerTarget struct {
	SubjectID        int     `json:"subject_id"`
	TermID           int     `json:"term_id"`
	ExamScoreCeiling float64 `json:"exam_score_ceiling"`
}

// ExamView is the resolved, read-only view the engine works against: the
// definition, the schedule window when scheduled, and the question bank
// entries the definition references.
type ExamView struct {
	Ref        ExamRef                `json:"ref"`
	Definition ExamDefinition         `json:"definition"`
	Schedule   *ExamSchedule          `json:"schedule,omitempty"`
	Questions  map[uuid.UUID]Question `json:"questions"`
	TotalMarks float64                `json:"total_marks"`
}

// NewExamView assembles a view and derives its total marks.
func NewExamView(ref ExamRef, def ExamDefinition, sched *ExamSchedule, questions []Question) *ExamView {
	v := &ExamView{
		Ref:        ref,
		Definition: def,
		Schedule:   sched,
		Questions:  make(map[uuid.UUID]Question, len(questions)),
	}
	for _, q := range questions {
		v.Questions[q.ID] = q
	}
	for _, qr := range def.Questions {
		if m, ok := v.QuestionMarks(qr.QuestionID); ok {
			v.TotalMarks += m
		}
	}
	return v
}

// Available reports whether a new attempt may start at now.
func (v *ExamView) Available(now time.Time) bool {
	if v.Definition.Status != ExamStatusPublished {
		return false
	}
	if v.Ref.Kind == ExamRefScheduled {
		if v.Schedule == nil || !v.Schedule.IsActive {
			return false
		}
		if now.Before(v.Schedule.StartsAt) || now.After(v.Schedule.EndsAt) {
			return false
		}
	}
	return true
}

// Question returns the question if it belongs to this exam.
func (v *ExamView) Question(id uuid.UUID) (Question, bool) {
	for _, qr := range v.Definition.Questions {
		if qr.QuestionID == id {
			q, ok := v.Questions[id]
			return q, ok
		}
	}
	return Question{}, false
}

// QuestionMarks returns the marks a question is worth in this exam.
func (v *ExamView) QuestionMarks(id uuid.UUID) (float64, bool) {
	for _, qr := range v.Definition.Questions {
		if qr.QuestionID != id {
			continue
		}
		if qr.Marks > 0 {
			return qr.Marks, true
		}
		q, ok := v.Questions[id]
		if !ok {
			return 0, false
		}
		return q.Marks, true
	}
	return 0, false
}

// OrderedQuestionIDs returns question ids in definition order.
func (v *ExamView) OrderedQuestionIDs() []uuid.UUID {
	refs := slices.Clone(v.Definition.Questions)
	slices.SortStableFunc(refs, func(a, b QuestionRef) int { return cmp.Compare(a.Order, b.Order) })
	ids := make([]uuid.UUID, len(refs))
	for i, r := range refs {
		ids[i] = r.QuestionID
	}
	return ids
}

// Ledger returns where scores for this exam are synced, or nil when the
// definition is not tied to a subject and term.
func (v *ExamView) Ledger() *LedgerTarget {
	d := v.Definition
	if d.SubjectID == nil || d.TermID == nil {
		return nil
	}
	ceiling := v.TotalMarks
	if d.ExamScoreCeiling != nil && *d.ExamScoreCeiling > 0 {
		ceiling = *d.ExamScoreCeiling
	}
	return &LedgerTarget{SubjectID: *d.SubjectID, TermID: *d.TermID, ExamScoreCeiling: ceiling}
}
