package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func TestGrade(t *testing.T) {
	mc := choiceQuestion(5, "B", "A", "B", "C", "D")
	tf := model.Question{ID: uuid.New(), Type: model.QuestionTypeTrueFalse, Marks: 2, Payload: model.ChoiceSet{Options: []model.Option{
		{ID: "true", Text: "Benar", IsCorrect: true},
		{ID: "false", Text: "Salah"},
	}}}
	noKey := choiceQuestion(5, "", "A", "B")
	fill := fillQuestion(3, " Jakarta ")
	emptyKey := fillQuestion(3, "")
	essay := essayQuestion(10)

	tests := []struct {
		name        string
		q           model.Question
		marks       float64
		answer      string
		wantCorrect *bool
		wantMarks   float64
	}{
		{"choice correct", mc, 5, "B", boolPtr(true), 5},
		{"choice wrong", mc, 5, "A", boolPtr(false), 0},
		{"choice surrounding space", mc, 5, "  B ", boolPtr(true), 5},
		{"choice is case sensitive", mc, 5, "b", boolPtr(false), 0},
		{"choice empty answer", mc, 5, "", boolPtr(false), 0},
		{"choice uses exam marks", mc, 8, "B", boolPtr(true), 8},
		{"true false correct", tf, 2, "true", boolPtr(true), 2},
		{"true false wrong", tf, 2, "false", boolPtr(false), 0},
		{"choice without key never correct", noKey, 5, "", boolPtr(false), 0},
		{"fill exact", fill, 3, "Jakarta", boolPtr(true), 3},
		{"fill case insensitive", fill, 3, "jAKARTA", boolPtr(true), 3},
		{"fill trimmed", fill, 3, "\tjakarta  ", boolPtr(true), 3},
		{"fill partial", fill, 3, "Jakart", boolPtr(false), 0},
		{"fill empty key", emptyKey, 3, "", boolPtr(false), 0},
		{"essay ungraded", essay, 10, "Newton's second law", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Grade(tt.q, tt.marks, tt.answer)
			if got.Marks != tt.wantMarks {
				t.Errorf("marks = %v, want %v", got.Marks, tt.wantMarks)
			}
			switch {
			case tt.wantCorrect == nil && got.IsCorrect != nil:
				t.Errorf("is_correct = %v, want nil", *got.IsCorrect)
			case tt.wantCorrect != nil && got.IsCorrect == nil:
				t.Errorf("is_correct = nil, want %v", *tt.wantCorrect)
			case tt.wantCorrect != nil && *got.IsCorrect != *tt.wantCorrect:
				t.Errorf("is_correct = %v, want %v", *got.IsCorrect, *tt.wantCorrect)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{50, 50},
		{12.345, 12.35},
		{12.344, 12.34},
		{2.0 / 3.0 * 100, 66.67},
		{1.0 / 3.0 * 100, 33.33},
		{0.005, 0.01},
		{1.005, 1.01},
		{-1.005, -1.01},
	}
	for _, tt := range tests {
		if got := round2(tt.in); got != tt.want {
			t.Errorf("round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComputeScore(t *testing.T) {
	answers := func(marks ...float64) []model.Answer {
		out := make([]model.Answer, len(marks))
		for i, m := range marks {
			out[i] = model.Answer{MarksObtained: m}
		}
		return out
	}

	tests := []struct {
		name       string
		answers    []model.Answer
		totalMarks float64
		wantTotal  float64
		wantPct    float64
	}{
		{"half", answers(5, 0), 10, 5, 50},
		{"full", answers(5, 5), 10, 10, 100},
		{"nothing answered", nil, 10, 0, 0},
		{"repeating fraction", answers(1), 3, 1, 33.33},
		{"fractional essay marks", answers(2.5, 4.25), 20, 6.75, 33.75},
		{"zero total marks", answers(0), 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, pct := ComputeScore(tt.answers, tt.totalMarks)
			if total != tt.wantTotal || pct != tt.wantPct {
				t.Errorf("ComputeScore = (%v, %v), want (%v, %v)", total, pct, tt.wantTotal, tt.wantPct)
			}
		})
	}
}
