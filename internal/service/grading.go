package service

import (
	"math"
	"strings"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// GradeResult is the outcome of auto-grading one answer.
// IsCorrect is nil for answers that need a human grader.
type GradeResult struct {
	IsCorrect *bool
	Marks     float64
}

// Grade scores answer against q, where marks is what q is worth in the exam.
//   - multiple_choice, true_false: the answer is an option id; full marks
//     when it is the correct option, otherwise 0
//   - fill_blank: case-insensitive match after trimming whitespace, no
//     partial credit
//   - essay: ungraded, 0 marks until GradeEssay
func Grade(q model.Question, marks float64, answer string) GradeResult {
	switch p := q.Payload.(type) {
	case model.ChoiceSet:
		correct, ok := p.CorrectOption()
		return objective(ok && strings.TrimSpace(answer) == correct, marks)
	case model.TextAnswer:
		want := strings.TrimSpace(p.CorrectAnswer)
		got := strings.TrimSpace(answer)
		return objective(want != "" && strings.EqualFold(got, want), marks)
	default:
		return GradeResult{}
	}
}

func objective(correct bool, marks float64) GradeResult {
	r := GradeResult{IsCorrect: &correct}
	if correct {
		r.Marks = marks
	}
	return r
}

// round2 rounds half away from zero to two decimals. The epsilon absorbs
// binary representation error so 12.345 rounds to 12.35.
func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return math.Floor(v*100+0.5+1e-9) / 100
}

// ComputeScore sums marks over answers and expresses the sum as a percentage
// of totalMarks. An exam worth nothing scores 0%.
func ComputeScore(answers []model.Answer, totalMarks float64) (total, percentage float64) {
	for _, a := range answers {
		total += a.MarksObtained
	}
	total = round2(total)
	if totalMarks <= 0 {
		return total, 0
	}
	return total, round2(total / totalMarks * 100)
}
