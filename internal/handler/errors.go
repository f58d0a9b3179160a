package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// errBadFrame marks a WebSocket message that is missing or mangling a field.
var errBadFrame = errors.New("malformed message")

var serviceErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrExamNotFound},
	{service.ErrExamNotAvailable, http.StatusForbidden, response.ErrExamNotAvailable},
	{service.ErrAttemptsExhausted, http.StatusConflict, response.ErrAttemptsExhausted},
	{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrAttemptNotFound},
	{service.ErrAttemptNotActive, http.StatusConflict, response.ErrAttemptNotActive},
	{service.ErrAttemptNotTerminal, http.StatusConflict, response.ErrAttemptNotTerminal},
	{service.ErrSubmissionWindowClosed, http.StatusConflict, response.ErrSubmissionWindowClosed},
	{service.ErrInvalidTrigger, http.StatusBadRequest, response.ErrValidation},
	{service.ErrQuestionNotInExam, http.StatusBadRequest, response.ErrQuestionNotInExam},
	{service.ErrAnswerNotFound, http.StatusNotFound, response.ErrAnswerNotFound},
	{service.ErrNotEssayQuestion, http.StatusBadRequest, response.ErrNotEssayQuestion},
	{service.ErrInvalidMarks, http.StatusBadRequest, response.ErrInvalidMarks},
	{service.ErrLedgerNotConfigured, http.StatusConflict, response.ErrLedgerNotConfigured},
	{service.ErrResultRecordMissing, http.StatusNotFound, response.ErrResultRecordMissing},
}

// classify maps a service error to an HTTP status and API code. Unknown
// errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// fail writes the response for a service error, logging the unexpected ones.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// uuidParam parses a path parameter, answering 400 itself when it is not a UUID.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// examRefParam reads /exams/:kind/:id.
func examRefParam(c *gin.Context) (model.ExamRef, bool) {
	kind, ok := model.ParseExamRefKind(c.Param("kind"))
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidKind)
		return model.ExamRef{}, false
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return model.ExamRef{}, false
	}
	return model.ExamRef{Kind: kind, ID: id}, true
}

// submitResult is what a student sees after submitting. Scores are only
// released for completed attempts.
type submitResult struct {
	AttemptID  uuid.UUID           `json:"attempt_id"`
	Status     model.AttemptStatus `json:"status"`
	EndTime    *time.Time          `json:"end_time"`
	TotalScore *float64            `json:"total_score,omitempty"`
	Percentage *float64            `json:"percentage,omitempty"`
}

func newSubmitResult(a *model.Attempt) submitResult {
	r := submitResult{AttemptID: a.ID, Status: a.Status, EndTime: a.EndTime}
	if a.Status == model.AttemptStatusCompleted {
		total, pct := a.TotalScore, a.Percentage
		r.TotalScore, r.Percentage = &total, &pct
	}
	return r
}
