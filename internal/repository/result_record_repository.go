package repository

import (
	"context"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// GetResultRecordForUpdate locks the ledger row for a student, subject and
// term. The row is owned by the academic-records system and is never
// created here.
func (q *Queries) GetResultRecordForUpdate(ctx context.Context, studentID, subjectID, termID int) (*model.ResultRecord, error) {
	r := &model.ResultRecord{}
	err := q.db.QueryRow(ctx,
		`SELECT id, student_id, subject_id, term_id, ca_score, exam_score, total_score,
		        is_cbt_exam, manual_exam_score, cbt_exam_attempt_id, cbt_synced_at, updated_at
		 FROM result_records
		 WHERE student_id = $1 AND subject_id = $2 AND term_id = $3
		 FOR UPDATE`,
		studentID, subjectID, termID,
	).Scan(&r.ID, &r.StudentID, &r.SubjectID, &r.TermID, &r.CAScore, &r.ExamScore, &r.TotalScore,
		&r.IsCBTExam, &r.ManualExamScore, &r.CBTExamAttemptID, &r.CBTSyncedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

// UpdateResultRecord writes back the CBT-owned columns of a ledger row.
func (q *Queries) UpdateResultRecord(ctx context.Context, r *model.ResultRecord) error {
	return mapErr(q.db.QueryRow(ctx,
		`UPDATE result_records
		 SET exam_score = $2, total_score = $3, is_cbt_exam = $4, manual_exam_score = $5,
		     cbt_exam_attempt_id = $6, cbt_synced_at = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		r.ID, r.ExamScore, r.TotalScore, r.IsCBTExam, r.ManualExamScore, r.CBTExamAttemptID, r.CBTSyncedAt,
	).Scan(&r.UpdatedAt))
}
