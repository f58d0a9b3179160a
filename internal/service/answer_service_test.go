package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stemsi/exstem-cbt/internal/model"
)

func TestRecordAnswer_OverwriteKeepsOneRow(t *testing.T) {
	view, q1, _ := twoChoiceExam()
	h := newHarness(view)
	a := h.start(t, 7, view.Ref)

	first := h.answer(t, a, q1.ID, "B")
	if first.IsCorrect == nil || *first.IsCorrect || first.MarksObtained != 0 {
		t.Errorf("wrong answer graded as %+v", first)
	}
	if err := h.answers.ToggleFlag(context.Background(), a.ID, 7, q1.ID, true); err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}

	second := h.answer(t, a, q1.ID, "A")
	if second.ID != first.ID {
		t.Errorf("overwrite created a new row %s, want %s", second.ID, first.ID)
	}
	if second.IsCorrect == nil || !*second.IsCorrect || second.MarksObtained != 5 {
		t.Errorf("right answer graded as %+v", second)
	}

	rows, _ := h.store.ListAnswers(context.Background(), a.ID)
	if len(rows) != 1 {
		t.Fatalf("answers = %d, want 1", len(rows))
	}
	if !rows[0].IsFlagged || rows[0].AnswerText != "A" {
		t.Errorf("stored answer = %+v", rows[0])
	}
}

func TestRecordAnswer_Rejections(t *testing.T) {
	view, q1, _ := twoChoiceExam()
	stray := choiceQuestion(5, "A", "A", "B")
	ctx := context.Background()

	t.Run("question not in exam", func(t *testing.T) {
		h := newHarness(view)
		a := h.start(t, 7, view.Ref)
		_, err := h.answers.RecordAnswer(ctx, RecordAnswerInput{AttemptID: a.ID, StudentID: 7, QuestionID: stray.ID, Answer: "A"})
		if !errors.Is(err, ErrQuestionNotInExam) {
			t.Errorf("err = %v, want ErrQuestionNotInExam", err)
		}
		if err := h.answers.ToggleFlag(ctx, a.ID, 7, stray.ID, true); !errors.Is(err, ErrQuestionNotInExam) {
			t.Errorf("flag err = %v, want ErrQuestionNotInExam", err)
		}
	})

	t.Run("terminal attempt", func(t *testing.T) {
		h := newHarness(view)
		a := h.start(t, 7, view.Ref)
		if _, err := h.attempts.Submit(ctx, a.ID, model.SubmitTriggerManual); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		_, err := h.answers.RecordAnswer(ctx, RecordAnswerInput{AttemptID: a.ID, StudentID: 7, QuestionID: q1.ID, Answer: "A"})
		if !errors.Is(err, ErrAttemptNotActive) {
			t.Errorf("err = %v, want ErrAttemptNotActive", err)
		}
	})

	t.Run("past grace", func(t *testing.T) {
		h := newHarness(view)
		a := h.start(t, 7, view.Ref)
		h.clock.Advance(time.Hour + time.Minute)
		_, err := h.answers.RecordAnswer(ctx, RecordAnswerInput{AttemptID: a.ID, StudentID: 7, QuestionID: q1.ID, Answer: "A"})
		if !errors.Is(err, ErrSubmissionWindowClosed) {
			t.Errorf("err = %v, want ErrSubmissionWindowClosed", err)
		}
	})

	t.Run("someone else's attempt", func(t *testing.T) {
		h := newHarness(view)
		a := h.start(t, 7, view.Ref)
		_, err := h.answers.RecordAnswer(ctx, RecordAnswerInput{AttemptID: a.ID, StudentID: 8, QuestionID: q1.ID, Answer: "A"})
		if !errors.Is(err, ErrAttemptNotFound) {
			t.Errorf("err = %v, want ErrAttemptNotFound", err)
		}
	})
}

func TestToggleFlag_BeforeAnswering(t *testing.T) {
	view, q1, _ := twoChoiceExam()
	h := newHarness(view)
	a := h.start(t, 7, view.Ref)
	ctx := context.Background()

	if err := h.answers.ToggleFlag(ctx, a.ID, 7, q1.ID, true); err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}
	rows, _ := h.store.ListAnswers(ctx, a.ID)
	if len(rows) != 1 || !rows[0].IsFlagged || rows[0].AnswerText != "" {
		t.Fatalf("flag-only row = %+v", rows)
	}

	h.answer(t, a, q1.ID, "A")
	if err := h.answers.ToggleFlag(ctx, a.ID, 7, q1.ID, false); err != nil {
		t.Fatalf("unflag: %v", err)
	}
	rows, _ = h.store.ListAnswers(ctx, a.ID)
	if len(rows) != 1 || rows[0].IsFlagged || rows[0].AnswerText != "A" {
		t.Errorf("after answer and unflag = %+v", rows)
	}

	if err := h.answers.ToggleFlag(ctx, a.ID, 8, q1.ID, true); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("foreign flag err = %v, want ErrAttemptNotFound", err)
	}
}

func essayExam() (*model.ExamView, model.Question, model.Question) {
	mc := choiceQuestion(10, "A", "A", "B")
	essay := essayQuestion(10)
	def := newDefinition(mc, essay)
	return directView(def, mc, essay), mc, essay
}

func TestGradeEssay_ThenFinalize(t *testing.T) {
	view, mc, essay := essayExam()
	h := newHarness(view)
	ctx := context.Background()
	a := h.start(t, 7, view.Ref)
	h.answer(t, a, mc.ID, "A")
	ans := h.answer(t, a, essay.ID, "Momentum is conserved because...")
	if ans.IsCorrect != nil || ans.MarksObtained != 0 {
		t.Fatalf("essay auto-graded: %+v", ans)
	}

	if _, err := h.answers.GradeEssay(ctx, ans.ID, 7, 99); !errors.Is(err, ErrAttemptNotTerminal) {
		t.Fatalf("grading live attempt err = %v, want ErrAttemptNotTerminal", err)
	}

	submitted, err := h.attempts.Submit(ctx, a.ID, model.SubmitTriggerManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if submitted.TotalScore != 10 || submitted.Percentage != 50 {
		t.Fatalf("submitted score = %v (%v%%)", submitted.TotalScore, submitted.Percentage)
	}

	pending, err := h.answers.ListPendingEssays(ctx, view.Ref)
	if err != nil {
		t.Fatalf("ListPendingEssays: %v", err)
	}
	if len(pending) != 1 || pending[0].AnswerID != ans.ID || pending[0].MaxMarks != 10 {
		t.Fatalf("pending = %+v", pending)
	}

	h.clock.Advance(24 * time.Hour)
	graded, err := h.answers.GradeEssay(ctx, ans.ID, 7, 99)
	if err != nil {
		t.Fatalf("GradeEssay: %v", err)
	}
	if graded.MarksObtained != 7 || graded.IsCorrect == nil || *graded.IsCorrect || *graded.GradedBy != 99 {
		t.Errorf("graded answer = %+v", graded)
	}
	if st := h.store.attempt(t, a.ID); st.TotalScore != 10 {
		t.Errorf("grading changed the score before finalize: %v", st.TotalScore)
	}

	final, err := h.scores.Finalize(ctx, a.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.TotalScore != 17 || final.Percentage != 85 {
		t.Errorf("finalized score = %v (%v%%), want 17 (85%%)", final.TotalScore, final.Percentage)
	}
	stored := h.store.attempt(t, a.ID)
	if stored.Status != model.AttemptStatusSubmitted || !stored.EndTime.Equal(*submitted.EndTime) {
		t.Errorf("finalize touched status or end time: %+v", stored)
	}

	pending, _ = h.answers.ListPendingEssays(ctx, view.Ref)
	if len(pending) != 0 {
		t.Errorf("pending after grading = %+v", pending)
	}
}

func TestFlagOnlyAnswer_SubmitAndFinalize(t *testing.T) {
	view, mc, essay := essayExam()
	h := newHarness(view)
	ctx := context.Background()
	a := h.start(t, 7, view.Ref)

	if err := h.answers.ToggleFlag(ctx, a.ID, 7, essay.ID, true); err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}
	h.answer(t, a, mc.ID, "A")

	submitted, err := h.attempts.Submit(ctx, a.ID, model.SubmitTriggerManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !submitted.Status.IsTerminal() || submitted.TotalScore != 10 || submitted.Percentage != 50 {
		t.Fatalf("submitted = %s %v (%v%%)", submitted.Status, submitted.TotalScore, submitted.Percentage)
	}

	final, err := h.scores.Finalize(ctx, a.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.TotalScore != 10 || final.Percentage != 50 {
		t.Errorf("final = %v (%v%%), want 10 (50%%)", final.TotalScore, final.Percentage)
	}
}

func TestGradeEssay_Validation(t *testing.T) {
	view, mc, essay := essayExam()
	h := newHarness(view)
	ctx := context.Background()
	a := h.start(t, 7, view.Ref)
	mcAns := h.answer(t, a, mc.ID, "B")
	essayAns := h.answer(t, a, essay.ID, "text")
	if _, err := h.attempts.Submit(ctx, a.ID, model.SubmitTriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tests := []struct {
		name  string
		ans   *model.Answer
		marks float64
		want  error
	}{
		{"negative", essayAns, -1, ErrInvalidMarks},
		{"above max", essayAns, 10.5, ErrInvalidMarks},
		{"NaN", essayAns, math.NaN(), ErrInvalidMarks},
		{"objective question", mcAns, 5, ErrNotEssayQuestion},
		{"full marks", essayAns, 10, nil},
		{"zero", essayAns, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.answers.GradeEssay(ctx, tt.ans.ID, tt.marks, 1)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if err == nil && *got.IsCorrect != (tt.marks == 10) {
				t.Errorf("is_correct = %v for %v marks", *got.IsCorrect, tt.marks)
			}
		})
	}

	if _, err := h.answers.GradeEssay(ctx, a.ID, 1, 1); !errors.Is(err, ErrAnswerNotFound) {
		t.Errorf("unknown answer err = %v, want ErrAnswerNotFound", err)
	}
}

func TestFinalize_RequiresTerminal(t *testing.T) {
	view, _, _ := essayExam()
	h := newHarness(view)
	a := h.start(t, 7, view.Ref)
	if _, err := h.scores.Finalize(context.Background(), a.ID); !errors.Is(err, ErrAttemptNotTerminal) {
		t.Errorf("err = %v, want ErrAttemptNotTerminal", err)
	}
}
