package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Flag-only rows carry no answer text.
const answerColumns = `id, attempt_id, question_id, COALESCE(answer_text, ''), is_correct, marks_obtained,
	time_spent_seconds, is_flagged, graded_by, graded_at, created_at, updated_at`

func scanAnswer(row pgx.Row) (*model.Answer, error) {
	a := &model.Answer{}
	err := row.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.AnswerText, &a.IsCorrect, &a.MarksObtained,
		&a.TimeSpentSeconds, &a.IsFlagged, &a.GradedBy, &a.GradedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// UpsertAnswer stores the latest answer for (attempt, question). The flag
// set by SetAnswerFlag survives; a previous manual grade does not.
func (q *Queries) UpsertAnswer(ctx context.Context, a *model.Answer) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return mapErr(q.db.QueryRow(ctx,
		`INSERT INTO answers (id, attempt_id, question_id, answer_text, is_correct,
		                      marks_obtained, time_spent_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer_text = EXCLUDED.answer_text,
		     is_correct = EXCLUDED.is_correct,
		     marks_obtained = EXCLUDED.marks_obtained,
		     time_spent_seconds = EXCLUDED.time_spent_seconds,
		     graded_by = NULL,
		     graded_at = NULL,
		     updated_at = NOW()
		 RETURNING id, is_flagged, created_at, updated_at`,
		a.ID, a.AttemptID, a.QuestionID, a.AnswerText, a.IsCorrect, a.MarksObtained, a.TimeSpentSeconds,
	).Scan(&a.ID, &a.IsFlagged, &a.CreatedAt, &a.UpdatedAt))
}

// SetAnswerFlag marks or unmarks a question for review, creating an empty
// answer row when the student has not answered yet.
func (q *Queries) SetAnswerFlag(ctx context.Context, attemptID, questionID uuid.UUID, flagged bool) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO answers (id, attempt_id, question_id, answer_text, is_flagged)
		 VALUES ($1, $2, $3, '', $4)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET is_flagged = EXCLUDED.is_flagged, updated_at = NOW()`,
		uuid.New(), attemptID, questionID, flagged,
	)
	return err
}

// GetAnswer retrieves an answer by id.
func (q *Queries) GetAnswer(ctx context.Context, id uuid.UUID) (*model.Answer, error) {
	return scanAnswer(q.db.QueryRow(ctx, `SELECT `+answerColumns+` FROM answers WHERE id = $1`, id))
}

// GetAnswerForUpdate retrieves an answer and locks its row.
func (q *Queries) GetAnswerForUpdate(ctx context.Context, id uuid.UUID) (*model.Answer, error) {
	return scanAnswer(q.db.QueryRow(ctx, `SELECT `+answerColumns+` FROM answers WHERE id = $1 FOR UPDATE`, id))
}

// UpdateAnswerGrade stores a manual grade.
func (q *Queries) UpdateAnswerGrade(ctx context.Context, a *model.Answer) error {
	_, err := q.db.Exec(ctx,
		`UPDATE answers
		 SET marks_obtained = $2, is_correct = $3, graded_by = $4, graded_at = $5, updated_at = NOW()
		 WHERE id = $1`,
		a.ID, a.MarksObtained, a.IsCorrect, a.GradedBy, a.GradedAt,
	)
	return err
}

// ListAnswers retrieves all answers of an attempt.
func (q *Queries) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE attempt_id = $1 ORDER BY created_at`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListUngradedAnswers lists answers to the given questions on finished
// attempts of ref that no grader has touched yet.
func (q *Queries) ListUngradedAnswers(ctx context.Context, ref model.ExamRef, questionIDs []uuid.UUID) ([]model.PendingEssay, error) {
	if len(questionIDs) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx,
		`SELECT a.id, a.attempt_id, t.student_id, a.question_id, COALESCE(a.answer_text, ''),
		        COALESCE(t.end_time, t.updated_at)
		 FROM answers a
		 JOIN attempts t ON t.id = a.attempt_id
		 WHERE t.`+refColumn(ref)+` = $1
		   AND a.question_id = ANY($2::uuid[])
		   AND a.graded_at IS NULL
		   AND t.status IN ('completed', 'submitted', 'auto_submitted')
		 ORDER BY t.end_time, a.id`,
		ref.ID, questionIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PendingEssay
	for rows.Next() {
		var p model.PendingEssay
		if err := rows.Scan(&p.AnswerID, &p.AttemptID, &p.StudentID, &p.QuestionID, &p.AnswerText, &p.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
