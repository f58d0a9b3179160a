package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultRecord is the academic ledger row for one student, subject and term.
// It is owned by the academic-records system; this engine only merges CBT
// scores into it.
type ResultRecord struct {
	ID               int64      `json:"id"`
	StudentID        int        `json:"student_id"`
	SubjectID        int        `json:"subject_id"`
	TermID           int        `json:"term_id"`
	CAScore          *float64   `json:"ca_score"`
	ExamScore        *float64   `json:"exam_score"`
	TotalScore       *float64   `json:"total_score"`
	IsCBTExam        bool       `json:"is_cbt_exam"`
	ManualExamScore  *float64   `json:"manual_exam_score"`
	CBTExamAttemptID *uuid.UUID `json:"cbt_exam_attempt_id,omitempty"`
	CBTSyncedAt      *time.Time `json:"cbt_synced_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// LedgerSyncJob asks the ledger sync worker to retry an attempt.
type LedgerSyncJob struct {
	AttemptID string `json:"attempt_id"`
	Tries     int    `json:"tries"`
	NotBefore int64  `json:"not_before"`
}
