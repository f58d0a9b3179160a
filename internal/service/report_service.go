package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/response"
)

// ReportService exposes attempt aggregates to dashboards.
type ReportService struct {
	store repository.Store
	exams ExamProvider
}

// NewReportService creates a new ReportService.
func NewReportService(store repository.Store, exams ExamProvider) *ReportService {
	return &ReportService{store: store, exams: exams}
}

// GetAttempt returns an attempt with all its answers.
func (s *ReportService) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.AttemptDetail, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if answers == nil {
		answers = []model.Answer{}
	}
	return &model.AttemptDetail{Attempt: *a, Answers: answers}, nil
}

// ListAttempts returns one page of attempt summaries for an exam reference.
func (s *ReportService) ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.AttemptSummary, *response.Pagination, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	rows, total, err := s.store.ListAttempts(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}
	if rows == nil {
		rows = []model.AttemptSummary{}
	}

	totalPages := int(total) / f.PerPage
	if int(total)%f.PerPage != 0 {
		totalPages++
	}
	return rows, &response.Pagination{
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	}, nil
}

// ExamStats aggregates all attempts of an exam reference.
func (s *ReportService) ExamStats(ctx context.Context, ref model.ExamRef) (*model.ExamStats, error) {
	view, err := s.exams.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.store.ListAttemptOutcomes(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	return BuildExamStats(ref, view.Definition.PassMark, outcomes), nil
}

// BuildExamStats folds attempt outcomes into ExamStats. Score statistics only
// cover finalized terminal attempts; pass mark is a percentage.
func BuildExamStats(ref model.ExamRef, passMark float64, outcomes []repository.AttemptOutcome) *model.ExamStats {
	st := &model.ExamStats{
		Ref:           ref,
		CountByStatus: make(map[model.AttemptStatus]int),
		PassMark:      passMark,
	}

	var sumPct float64
	tabSwitches := 0
	for _, o := range outcomes {
		st.CountByStatus[o.Status]++
		tabSwitches += o.TabSwitches
		if !o.Status.IsTerminal() || !o.Finalized {
			continue
		}
		if st.Finalized == 0 || o.Percentage < st.MinPercentage {
			st.MinPercentage = o.Percentage
		}
		if st.Finalized == 0 || o.Percentage > st.MaxPercentage {
			st.MaxPercentage = o.Percentage
		}
		st.Finalized++
		sumPct += o.Percentage
		if o.Percentage >= passMark {
			st.Passed++
		}
	}

	if st.Finalized > 0 {
		st.AveragePercentage = round2(sumPct / float64(st.Finalized))
	}
	if len(outcomes) > 0 {
		st.AverageTabSwitch = round2(float64(tabSwitches) / float64(len(outcomes)))
	}
	return st
}
