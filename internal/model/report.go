package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptSummary is the per-attempt row exposed to dashboards.
type AttemptSummary struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	StudentID        int           `json:"student_id"`
	AttemptNumber    int           `json:"attempt_number"`
	Status           AttemptStatus `json:"status"`
	StartTime        *time.Time    `json:"start_time"`
	EndTime          *time.Time    `json:"end_time"`
	TimeTakenSeconds *int          `json:"time_taken_seconds"`
	TotalScore       float64       `json:"total_score"`
	Percentage       float64       `json:"percentage"`
	TabSwitches      int           `json:"tab_switches"`
}

// AttemptFilter narrows ListAttempts.
type AttemptFilter struct {
	Ref     ExamRef
	Status  *AttemptStatus
	Page    int
	PerPage int
}

// ExamStats aggregates all attempts of one exam reference.
type ExamStats struct {
	Ref               ExamRef               `json:"ref"`
	CountByStatus     map[AttemptStatus]int `json:"count_by_status"`
	Finalized         int                   `json:"finalized"`
	AveragePercentage float64               `json:"average_percentage"`
	MinPercentage     float64               `json:"min_percentage"`
	MaxPercentage     float64               `json:"max_percentage"`
	PassMark          float64               `json:"pass_mark"`
	Passed            int                   `json:"passed"`
	AverageTabSwitch  float64               `json:"average_tab_switches"`
}

// AttemptDetail is an attempt together with its answers.
type AttemptDetail struct {
	Attempt Attempt  `json:"attempt"`
	Answers []Answer `json:"answers"`
}
