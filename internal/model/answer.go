package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is a student's response to one question within one attempt.
// IsCorrect nil means not graded yet or not auto-gradable.
type Answer struct {
	ID               uuid.UUID  `json:"id"`
	AttemptID        uuid.UUID  `json:"attempt_id"`
	QuestionID       uuid.UUID  `json:"question_id"`
	AnswerText       string     `json:"answer_text"`
	IsCorrect        *bool      `json:"is_correct"`
	MarksObtained    float64    `json:"marks_obtained"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
	IsFlagged        bool       `json:"is_flagged"`
	GradedBy         *int       `json:"graded_by,omitempty"`
	GradedAt         *time.Time `json:"graded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RecordAnswerRequest is the payload for saving an answer.
type RecordAnswerRequest struct {
	Answer           string `json:"answer" binding:"max=10000"`
	TimeSpentSeconds int    `json:"time_spent_seconds" binding:"min=0"`
}

// ToggleFlagRequest is the payload for marking a question for review.
type ToggleFlagRequest struct {
	Flagged *bool `json:"flagged" binding:"required"`
}

// GradeEssayRequest is the payload a grader sends for an essay answer.
type GradeEssayRequest struct {
	Marks *float64 `json:"marks" binding:"required,min=0"`
}

// PendingEssay is an ungraded essay answer waiting for a grader.
type PendingEssay struct {
	AnswerID     uuid.UUID `json:"answer_id"`
	AttemptID    uuid.UUID `json:"attempt_id"`
	StudentID    int       `json:"student_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	AnswerText   string    `json:"answer_text"`
	SubmittedAt  time.Time `json:"submitted_at"`
	QuestionText string    `json:"question_text,omitempty"`
	MaxMarks     float64   `json:"max_marks"`
}
