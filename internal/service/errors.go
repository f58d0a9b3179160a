package service

import "errors"

// Domain errors. Handlers map these to response codes.
var (
	ErrExamNotFound           = errors.New("exam not found")
	ErrExamNotAvailable       = errors.New("exam is not available")
	ErrAttemptsExhausted      = errors.New("no attempts left for this exam")
	ErrAttemptNotFound        = errors.New("attempt not found")
	ErrAttemptNotActive       = errors.New("attempt is not in progress")
	ErrAttemptNotTerminal     = errors.New("attempt has not been submitted")
	ErrSubmissionWindowClosed = errors.New("submission window has closed")
	ErrInvalidTrigger         = errors.New("unknown submit trigger")
	ErrQuestionNotInExam      = errors.New("question does not belong to this exam")
	ErrAnswerNotFound         = errors.New("answer not found")
	ErrNotEssayQuestion       = errors.New("only essay answers can be graded manually")
	ErrInvalidMarks           = errors.New("marks out of range")
	ErrLedgerNotConfigured    = errors.New("exam is not linked to a subject and term")
	ErrResultRecordMissing    = errors.New("result record not found for student, subject and term")
)
