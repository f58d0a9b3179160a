package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusNotStarted    AttemptStatus = "not_started"
	AttemptStatusInProgress    AttemptStatus = "in_progress"
	AttemptStatusCompleted     AttemptStatus = "completed"
	AttemptStatusSubmitted     AttemptStatus = "submitted"
	AttemptStatusAutoSubmitted AttemptStatus = "auto_submitted"
)

// IsTerminal reports whether no further status transition is allowed.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptStatusCompleted, AttemptStatusSubmitted, AttemptStatusAutoSubmitted:
		return true
	}
	return false
}

// SubmitTrigger says who asked for a submission.
type SubmitTrigger string

const (
	SubmitTriggerManual            SubmitTrigger = "manual"
	SubmitTriggerAuto              SubmitTrigger = "auto"
	SubmitTriggerDisconnectTimeout SubmitTrigger = "disconnect-timeout"
)

// Valid reports whether t is a known trigger.
func (t SubmitTrigger) Valid() bool {
	switch t {
	case SubmitTriggerManual, SubmitTriggerAuto, SubmitTriggerDisconnectTimeout:
		return true
	}
	return false
}

// Attempt is one student's timed session against one exam instance.
// Exactly one of ExamID and ExamScheduleID is set.
type Attempt struct {
	ID               uuid.UUID           `json:"id"`
	ExamID           *uuid.UUID          `json:"exam_id,omitempty"`
	ExamScheduleID   *uuid.UUID          `json:"exam_schedule_id,omitempty"`
	StudentID        int                 `json:"student_id"`
	AttemptNumber    int                 `json:"attempt_number"`
	Status           AttemptStatus       `json:"status"`
	StartTime        *time.Time          `json:"start_time,omitempty"`
	EndTime          *time.Time          `json:"end_time,omitempty"`
	TimeTakenSeconds *int                `json:"time_taken_seconds,omitempty"`
	DurationMinutes  int                 `json:"duration_minutes"`
	TotalScore       float64             `json:"total_score"`
	Percentage       float64             `json:"percentage"`
	TabSwitches      int                 `json:"tab_switches"`
	IPAddress        string              `json:"ip_address,omitempty"`
	UserAgent        string              `json:"user_agent,omitempty"`
	BrowserInfo      json.RawMessage     `json:"browser_info,omitempty"`
	QuestionOrder    []uuid.UUID         `json:"question_order"`
	OptionOrder      map[string][]string `json:"option_order,omitempty"`
	SubmitTrigger    *SubmitTrigger      `json:"submit_trigger,omitempty"`
	FinalizedAt      *time.Time          `json:"finalized_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Ref returns the exam reference this attempt belongs to.
func (a *Attempt) Ref() ExamRef {
	if a.ExamScheduleID != nil {
		return ScheduledExam(*a.ExamScheduleID)
	}
	if a.ExamID != nil {
		return DirectExam(*a.ExamID)
	}
	return ExamRef{}
}

// SetRef stores ref into the matching column, clearing the other one.
func (a *Attempt) SetRef(ref ExamRef) {
	id := ref.ID
	a.ExamID, a.ExamScheduleID = nil, nil
	if ref.Kind == ExamRefScheduled {
		a.ExamScheduleID = &id
		return
	}
	a.ExamID = &id
}

// Deadline is start time plus the frozen duration. Zero if not started.
func (a *Attempt) Deadline() time.Time {
	if a.StartTime == nil {
		return time.Time{}
	}
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// StartAttemptRequest is the payload for starting (or resuming) an attempt.
type StartAttemptRequest struct {
	ExamID         *uuid.UUID      `json:"exam_id" binding:"required_without=ExamScheduleID,excluded_with=ExamScheduleID"`
	ExamScheduleID *uuid.UUID      `json:"exam_schedule_id" binding:"required_without=ExamID,excluded_with=ExamID"`
	BrowserInfo    json.RawMessage `json:"browser_info" binding:"omitempty"`
}

// SubmitAttemptRequest is the payload for a student submission. Clients may
// only claim manual or auto (their own countdown reached zero).
type SubmitAttemptRequest struct {
	Trigger string `json:"trigger" binding:"omitempty,oneof=manual auto"`
}

// AttemptPaper is the frozen effective view of an exam for one attempt.
type AttemptPaper struct {
	AttemptID  uuid.UUID            `json:"attempt_id"`
	Title      string               `json:"title"`
	Duration   int                  `json:"duration_minutes"`
	Deadline   time.Time            `json:"deadline"`
	AutoSubmit bool                 `json:"auto_submit"`
	Proctoring bool                 `json:"proctoring"`
	Questions  []QuestionForStudent `json:"questions"`
}

// AttemptState is what a reloaded client needs to continue.
type AttemptState struct {
	AttemptID     uuid.UUID         `json:"attempt_id"`
	Status        AttemptStatus     `json:"status"`
	Answers       map[string]string `json:"answers"`
	Flagged       []uuid.UUID       `json:"flagged"`
	RemainingTime float64           `json:"remaining_time"`
	TabSwitches   int               `json:"tab_switches"`
}
