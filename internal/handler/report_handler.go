package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

type attemptReporter interface {
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.AttemptDetail, error)
	ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.AttemptSummary, *response.Pagination, error)
	ExamStats(ctx context.Context, ref model.ExamRef) (*model.ExamStats, error)
}

type integrityReporter interface {
	GetReport(ctx context.Context, attemptID uuid.UUID) (*model.IntegrityReport, error)
}

type pendingEssayLister interface {
	ListPendingEssays(ctx context.Context, ref model.ExamRef) ([]model.PendingEssay, error)
}

type examRefresher interface {
	Refresh(ctx context.Context, ref model.ExamRef) (*model.ExamView, error)
}

// listAttemptsQuery is the query string for the attempts dashboard.
type listAttemptsQuery struct {
	Status  string `form:"status" binding:"omitempty,attempt_status"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// ReportHandler serves read-only views for graders and proctors.
type ReportHandler struct {
	reports   attemptReporter
	integrity integrityReporter
	essays    pendingEssayLister
	catalog   examRefresher
	log       zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports attemptReporter, integrity integrityReporter, essays pendingEssayLister, catalog examRefresher, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		reports:   reports,
		integrity: integrity,
		essays:    essays,
		catalog:   catalog,
		log:       log.With().Str("component", "report_handler").Logger(),
	}
}

// GetAttempt godoc
// GET /api/v1/admin/attempts/:id
// Full attempt record with every graded answer.
func (h *ReportHandler) GetAttempt(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.reports.GetAttempt(c.Request.Context(), attemptID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// GetIntegrity godoc
// GET /api/v1/admin/attempts/:id/integrity
func (h *ReportHandler) GetIntegrity(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	report, err := h.integrity.GetReport(c.Request.Context(), attemptID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// ListAttempts godoc
// GET /api/v1/admin/exams/:kind/:id/attempts?status=&page=&per_page=
func (h *ReportHandler) ListAttempts(c *gin.Context) {
	ref, ok := examRefParam(c)
	if !ok {
		return
	}

	var q listAttemptsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	f := model.AttemptFilter{Ref: ref, Page: q.Page, PerPage: q.PerPage}
	if q.Status != "" {
		st := model.AttemptStatus(q.Status)
		f.Status = &st
	}

	rows, pg, err := h.reports.ListAttempts(c.Request.Context(), f)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, rows, pg)
}

// ExamStats godoc
// GET /api/v1/admin/exams/:kind/:id/stats
func (h *ReportHandler) ExamStats(c *gin.Context) {
	ref, ok := examRefParam(c)
	if !ok {
		return
	}

	st, err := h.reports.ExamStats(c.Request.Context(), ref)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}

// PendingEssays godoc
// GET /api/v1/admin/exams/:kind/:id/pending-essays
func (h *ReportHandler) PendingEssays(c *gin.Context) {
	ref, ok := examRefParam(c)
	if !ok {
		return
	}

	pending, err := h.essays.ListPendingEssays(c.Request.Context(), ref)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, pending)
}

// RefreshCache godoc
// POST /api/v1/admin/exams/:kind/:id/refresh-cache
// Drops the cached exam view and reloads it from PostgreSQL.
func (h *ReportHandler) RefreshCache(c *gin.Context) {
	ref, ok := examRefParam(c)
	if !ok {
		return
	}

	view, err := h.catalog.Refresh(c.Request.Context(), ref)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"ref":            view.Ref,
		"question_count": len(view.Questions),
		"total_marks":    view.TotalMarks,
	})
}
