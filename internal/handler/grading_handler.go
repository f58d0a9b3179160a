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
	"github.com/stemsi/exstem-cbt/internal/validator"
)

type essayGrader interface {
	GradeEssay(ctx context.Context, answerID uuid.UUID, marks float64, graderID int) (*model.Answer, error)
}

type attemptFinalizer interface {
	Finalize(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
}

type ledgerWriter interface {
	SyncToResultLedger(ctx context.Context, attemptID uuid.UUID) (*model.ResultRecord, error)
}

type attemptSubmitter interface {
	Submit(ctx context.Context, attemptID uuid.UUID, trigger model.SubmitTrigger) (*model.Attempt, error)
}

// GradingHandler covers the grader's write operations on attempts.
type GradingHandler struct {
	essays    essayGrader
	scores    attemptFinalizer
	ledger    ledgerWriter
	submitter attemptSubmitter
	log       zerolog.Logger
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(essays essayGrader, scores attemptFinalizer, ledger ledgerWriter, submitter attemptSubmitter, log zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		essays:    essays,
		scores:    scores,
		ledger:    ledger,
		submitter: submitter,
		log:       log.With().Str("component", "grading_handler").Logger(),
	}
}

// GradeEssay godoc
// PUT /api/v1/admin/answers/:id/grade
// Awards marks to an essay answer. The attempt is not re-finalized; call
// Finalize once grading is done.
func (h *GradingHandler) GradeEssay(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	answerID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.GradeEssayRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ans, err := h.essays.GradeEssay(c.Request.Context(), answerID, *req.Marks, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ans)
}

// Finalize godoc
// POST /api/v1/admin/attempts/:id/finalize
// Recomputes total score and percentage from the stored answers.
func (h *GradingHandler) Finalize(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	a, err := h.scores.Finalize(c.Request.Context(), attemptID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// SyncLedger godoc
// POST /api/v1/admin/attempts/:id/sync
func (h *GradingHandler) SyncLedger(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	rec, err := h.ledger.SyncToResultLedger(c.Request.Context(), attemptID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

// ForceSubmit godoc
// POST /api/v1/admin/attempts/:id/submit
// Closes an attempt on the student's behalf, as if their timer ran out.
func (h *GradingHandler) ForceSubmit(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	a, err := h.submitter.Submit(c.Request.Context(), attemptID, model.SubmitTriggerAuto)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	claims := middleware.GetClaims(c)
	if claims != nil {
		h.log.Info().Str("attempt_id", attemptID.String()).Int("admin_id", claims.UserID).Msg("Attempt force-submitted")
	}
	response.Success(c, http.StatusOK, a)
}
