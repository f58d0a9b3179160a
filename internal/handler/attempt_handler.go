package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

type attemptFlow interface {
	StartAttempt(ctx context.Context, in service.StartAttemptInput) (*model.Attempt, bool, error)
	GetPaper(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptPaper, error)
	GetState(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptState, error)
	SubmitAsStudent(ctx context.Context, attemptID uuid.UUID, studentID int, trigger model.SubmitTrigger) (*model.Attempt, error)
}

type answerRecorder interface {
	RecordAnswer(ctx context.Context, in service.RecordAnswerInput) (*model.Answer, error)
	ToggleFlag(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID, flagged bool) error
}

type integrityRecorder interface {
	RecordTabSwitch(ctx context.Context, attemptID uuid.UUID, studentID int) (int, error)
	RefreshHeartbeat(ctx context.Context, in service.HeartbeatInput) (*model.HeartbeatAck, error)
}

// AttemptHandler serves the student side of an exam attempt.
type AttemptHandler struct {
	attempts  attemptFlow
	answers   answerRecorder
	integrity integrityRecorder
	log       zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts attemptFlow, answers answerRecorder, integrity integrityRecorder, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts:  attempts,
		answers:   answers,
		integrity: integrity,
		log:       log.With().Str("component", "attempt_handler").Logger(),
	}
}

// student resolves the caller and the :id attempt. It writes the error
// response itself when either is missing.
func (h *AttemptHandler) student(c *gin.Context) (studentID int, attemptID uuid.UUID, ok bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, uuid.Nil, false
	}
	attemptID, ok = uuidParam(c, "id")
	return claims.UserID, attemptID, ok
}

// StartAttempt godoc
// POST /api/v1/student/attempts
// Starts an attempt, or resumes the student's open one (200 instead of 201).
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var ref model.ExamRef
	if req.ExamScheduleID != nil {
		ref = model.ScheduledExam(*req.ExamScheduleID)
	} else {
		ref = model.DirectExam(*req.ExamID)
	}

	attempt, resumed, err := h.attempts.StartAttempt(c.Request.Context(), service.StartAttemptInput{
		StudentID:   claims.UserID,
		Ref:         ref,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		BrowserInfo: req.BrowserInfo,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"attempt": attempt, "resumed": resumed})
}

// GetPaper godoc
// GET /api/v1/student/attempts/:id/paper
// Returns the questions in this attempt's frozen order, without answer keys.
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	studentID, attemptID, ok := h.student(c)
	if !ok {
		return
	}

	paper, err := h.attempts.GetPaper(c.Request.Context(), attemptID, studentID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// GetState godoc
// GET /api/v1/student/attempts/:id/state
// Saved answers, flags and remaining time, for a client that reloaded.
func (h *AttemptHandler) GetState(c *gin.Context) {
	studentID, attemptID, ok := h.student(c)
	if !ok {
		return
	}

	state, err := h.attempts.GetState(c.Request.Context(), attemptID, studentID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// RecordAnswer godoc
// PUT /api/v1/student/attempts/:id/answers/:question_id
func (h *AttemptHandler) RecordAnswer(c *gin.Context) {
	studentID, attemptID, ok := h.student(c)
	if !ok {
		return
	}
	questionID, ok := uuidParam(c, "question_id")
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ans, err := h.answers.RecordAnswer(c.Request.Context(), service.RecordAnswerInput{
		AttemptID:        attemptID,
		StudentID:        studentID,
		QuestionID:       questionID,
		Answer:           req.Answer,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	// Correctness stays server-side until results are released.
	response.Success(c, http.StatusOK, gin.H{"question_id": ans.QuestionID, "saved": true})
}

// ToggleFlag godoc
// PUT /api/v1/student/attempts/:id/flags/:question_id
func (h *AttemptHandler) ToggleFlag(c *gin.Context) {
	studentID, attemptID, ok := h.student(c)
	if !ok {
		return
	}
	questionID, ok := uuidParam(c, "question_id")
	if !ok {
		return
	}

	var req model.ToggleFlagRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.answers.ToggleFlag(c.Request.Context(), attemptID, studentID, questionID, *req.Flagged); err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": questionID, "flagged": *req.Flagged})
}

// RecordTabSwitch godoc
// POST /api/v1/student/attempts/:id/tab-switch
// Counts a focus loss. After submission the count is frozen and returned as is.
func (h *AttemptHandler) RecordTabSwitch(c *gin.Context) {
	studentID, attemptID, ok := h.student(c)
	if !ok {
		return
	}

	n, err := h.integrity.RecordTabSwitch(c.Request.Context(), attemptID, studentID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tab_switches": n})
}

// Heartbeat godoc
// POST /api/v1/student/attempts/:id/heartbeat
func (h *AttemptHandler) Heartbeat(c *gin.Context) {
	studentID, attemptID, ok := h.student(c)
	if !ok {
		return
	}

	ack, err := h.integrity.RefreshHeartbeat(c.Request.Context(), service.HeartbeatInput{
		AttemptID: attemptID,
		StudentID: studentID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

// Submit godoc
// POST /api/v1/student/attempts/:id/submit
// Idempotent: submitting a finished attempt returns it unchanged.
func (h *AttemptHandler) Submit(c *gin.Context) {
	studentID, attemptID, ok := h.student(c)
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	trigger := model.SubmitTriggerManual
	if req.Trigger != "" {
		trigger = model.SubmitTrigger(req.Trigger)
	}

	a, err := h.attempts.SubmitAsStudent(c.Request.Context(), attemptID, studentID, trigger)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, newSubmitResult(a))
}
