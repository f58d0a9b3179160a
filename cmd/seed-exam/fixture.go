package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"gopkg.in/yaml.v3"
)

// fixture is one YAML seed file: an exam with its questions, optional
// schedules and the result ledger rows its CBT score will flow into.
type fixture struct {
	Exam      examFixture       `yaml:"exam"`
	Questions []questionFixture `yaml:"questions"`
	Schedules []scheduleFixture `yaml:"schedules"`
	Ledger    []ledgerFixture   `yaml:"ledger"`
}

type examFixture struct {
	ID                     uuid.UUID        `yaml:"id"`
	Title                  string           `yaml:"title"`
	SubjectID              *int             `yaml:"subject_id"`
	TermID                 *int             `yaml:"term_id"`
	DurationMinutes        int              `yaml:"duration_minutes"`
	AttemptsAllowed        int              `yaml:"attempts_allowed"`
	RandomizeQuestions     bool             `yaml:"randomize_questions"`
	RandomizeOptions       bool             `yaml:"randomize_options"`
	PassMark               float64          `yaml:"pass_mark"`
	AutoSubmit             *bool            `yaml:"auto_submit"`
	ShowResultsImmediately bool             `yaml:"show_results_immediately"`
	Proctoring             bool             `yaml:"proctoring"`
	ExamScoreCeiling       *float64         `yaml:"exam_score_ceiling"`
	Status                 model.ExamStatus `yaml:"status"`
}

type questionFixture struct {
	ID            uuid.UUID          `yaml:"id"`
	Type          model.QuestionType `yaml:"type"`
	Text          string             `yaml:"text"`
	Marks         float64            `yaml:"marks"`
	TimeLimit     *int               `yaml:"time_limit_seconds"`
	Options       []model.Option     `yaml:"options"`
	CorrectAnswer string             `yaml:"correct_answer"`
}

type scheduleFixture struct {
	ID       uuid.UUID `yaml:"id"`
	StartsAt time.Time `yaml:"starts_at"`
	EndsAt   time.Time `yaml:"ends_at"`
}

type ledgerFixture struct {
	StudentID       int      `yaml:"student_id"`
	CAScore         *float64 `yaml:"ca_score"`
	ManualExamScore *float64 `yaml:"manual_exam_score"`
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseFixture(data)
}

// parseFixture decodes and validates a seed file, filling ids and defaults.
func parseFixture(data []byte) (*fixture, error) {
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if f.Exam.ID == uuid.Nil {
		f.Exam.ID = uuid.New()
	}
	if f.Exam.Status == "" {
		f.Exam.Status = model.ExamStatusPublished
	}
	if f.Exam.AttemptsAllowed < 1 {
		f.Exam.AttemptsAllowed = 1
	}
	if f.Exam.AutoSubmit == nil {
		yes := true
		f.Exam.AutoSubmit = &yes
	}
	for i := range f.Questions {
		if f.Questions[i].ID == uuid.Nil {
			f.Questions[i].ID = uuid.New()
		}
	}
	for i := range f.Schedules {
		if f.Schedules[i].ID == uuid.Nil {
			f.Schedules[i].ID = uuid.New()
		}
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *fixture) validate() error {
	var errs []error
	if f.Exam.Title == "" {
		errs = append(errs, errors.New("exam.title is required"))
	}
	if f.Exam.DurationMinutes <= 0 {
		errs = append(errs, errors.New("exam.duration_minutes must be positive"))
	}
	switch f.Exam.Status {
	case model.ExamStatusDraft, model.ExamStatusPublished, model.ExamStatusArchived:
	default:
		errs = append(errs, fmt.Errorf("exam.status %q is not a known status", f.Exam.Status))
	}
	if len(f.Questions) == 0 {
		errs = append(errs, errors.New("at least one question is required"))
	}

	for i, q := range f.Questions {
		if err := q.validate(); err != nil {
			errs = append(errs, fmt.Errorf("questions[%d]: %w", i, err))
		}
	}
	for i, s := range f.Schedules {
		if !s.EndsAt.After(s.StartsAt) {
			errs = append(errs, fmt.Errorf("schedules[%d]: ends_at must be after starts_at", i))
		}
	}
	if len(f.Ledger) > 0 && (f.Exam.SubjectID == nil || f.Exam.TermID == nil) {
		errs = append(errs, errors.New("ledger rows need exam.subject_id and exam.term_id"))
	}
	return errors.Join(errs...)
}

func (q questionFixture) validate() error {
	if q.Text == "" {
		return errors.New("text is required")
	}
	if q.Marks < 0 {
		return errors.New("marks must not be negative")
	}

	switch q.Type {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		correct := 0
		for _, o := range q.Options {
			if o.IsCorrect {
				correct++
			}
		}
		if len(q.Options) < 2 || correct != 1 {
			return fmt.Errorf("%s needs two or more options with exactly one correct", q.Type)
		}
	case model.QuestionTypeFillBlank:
		if q.CorrectAnswer == "" {
			return errors.New("fill_blank needs correct_answer")
		}
	case model.QuestionTypeEssay:
	default:
		return fmt.Errorf("unknown type %q", q.Type)
	}
	return nil
}

// payload builds the stored answer key for the question type.
func (q questionFixture) payload() model.QuestionPayload {
	switch q.Type {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		return model.ChoiceSet{Options: q.Options}
	case model.QuestionTypeFillBlank:
		return model.TextAnswer{CorrectAnswer: q.CorrectAnswer}
	default:
		return model.Essay{}
	}
}
