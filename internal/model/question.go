package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeFillBlank      QuestionType = "fill_blank"
)

// Option is one selectable answer of a choice question.
// Exactly one option per question is correct; that is enforced when the
// question is authored and not re-checked here.
type Option struct {
	ID        string `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text"`
	IsCorrect bool   `json:"is_correct" yaml:"is_correct"`
}

// QuestionPayload is the type-specific part of a question. It is one of
// ChoiceSet, TextAnswer or Essay, selected by the question type.
type QuestionPayload interface {
	isQuestionPayload()
}

// ChoiceSet backs multiple_choice and true_false questions.
type ChoiceSet struct {
	Options []Option `json:"options"`
}

// TextAnswer backs fill_blank questions.
type TextAnswer struct {
	CorrectAnswer string `json:"correct_answer"`
}

// Essay questions carry no answer key; they are graded by a human.
type Essay struct{}

func (ChoiceSet) isQuestionPayload()  {}
func (TextAnswer) isQuestionPayload() {}
func (Essay) isQuestionPayload()      {}

// CorrectOption returns the id of the correct option, if any.
func (c ChoiceSet) CorrectOption() (string, bool) {
	for _, o := range c.Options {
		if o.IsCorrect {
			return o.ID, true
		}
	}
	return "", false
}

// Question represents a single question bank entry.
type Question struct {
	ID               uuid.UUID       `json:"id"`
	Type             QuestionType    `json:"type"`
	Text             string          `json:"text"`
	Marks            float64         `json:"marks"`
	TimeLimitSeconds *int            `json:"time_limit_seconds,omitempty"`
	Payload          QuestionPayload `json:"-"`
}

// DecodePayload interprets a stored payload document according to the
// question type.
func DecodePayload(t QuestionType, raw []byte) (QuestionPayload, error) {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse:
		var c ChoiceSet
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("decode choice set: %w", err)
			}
		}
		return c, nil
	case QuestionTypeFillBlank:
		var ta TextAnswer
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ta); err != nil {
				return nil, fmt.Errorf("decode text answer: %w", err)
			}
		}
		return ta, nil
	case QuestionTypeEssay:
		return Essay{}, nil
	default:
		return nil, fmt.Errorf("unknown question type %q", t)
	}
}

// EncodePayload renders the payload for storage; nil payloads encode as {}.
func EncodePayload(p QuestionPayload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

type questionJSON struct {
	ID               uuid.UUID       `json:"id"`
	Type             QuestionType    `json:"type"`
	Text             string          `json:"text"`
	Marks            float64         `json:"marks"`
	TimeLimitSeconds *int            `json:"time_limit_seconds,omitempty"`
	Payload          json.RawMessage `json:"payload"`
}

// MarshalJSON includes the answer key; use QuestionForStudent for anything a
// student can see.
func (q Question) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(q.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(questionJSON{
		ID:               q.ID,
		Type:             q.Type,
		Text:             q.Text,
		Marks:            q.Marks,
		TimeLimitSeconds: q.TimeLimitSeconds,
		Payload:          payload,
	})
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var raw questionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*q = Question{
		ID:               raw.ID,
		Type:             raw.Type,
		Text:             raw.Text,
		Marks:            raw.Marks,
		TimeLimitSeconds: raw.TimeLimitSeconds,
		Payload:          payload,
	}
	return nil
}

// OptionForStudent is an option without its correctness flag.
type OptionForStudent struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionForStudent is a question without the answer key, sent to students.
type QuestionForStudent struct {
	ID               uuid.UUID          `json:"id"`
	Type             QuestionType       `json:"type"`
	Text             string             `json:"text"`
	Marks            float64            `json:"marks"`
	TimeLimitSeconds *int               `json:"time_limit_seconds,omitempty"`
	Options          []OptionForStudent `json:"options,omitempty"`
	OrderNum         int                `json:"order_num"`
}
