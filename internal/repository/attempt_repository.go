package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const attemptColumns = `id, exam_id, exam_schedule_id, student_id, attempt_number, status,
	start_time, end_time, time_taken_seconds, duration_minutes, total_score, percentage,
	tab_switches, ip_address, user_agent, browser_info, question_order, option_order,
	submit_trigger, finalized_at, created_at, updated_at`

// refColumn returns the attempts column an ExamRef is stored in.
func refColumn(ref model.ExamRef) string {
	if ref.Kind == model.ExamRefScheduled {
		return "exam_schedule_id"
	}
	return "exam_id"
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var browserInfo, questionOrder, optionOrder []byte
	err := row.Scan(
		&a.ID, &a.ExamID, &a.ExamScheduleID, &a.StudentID, &a.AttemptNumber, &a.Status,
		&a.StartTime, &a.EndTime, &a.TimeTakenSeconds, &a.DurationMinutes, &a.TotalScore, &a.Percentage,
		&a.TabSwitches, &a.IPAddress, &a.UserAgent, &browserInfo, &questionOrder, &optionOrder,
		&a.SubmitTrigger, &a.FinalizedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(browserInfo) > 0 {
		a.BrowserInfo = json.RawMessage(browserInfo)
	}
	if len(questionOrder) > 0 {
		if err := json.Unmarshal(questionOrder, &a.QuestionOrder); err != nil {
			return nil, fmt.Errorf("decode question_order: %w", err)
		}
	}
	if len(optionOrder) > 0 {
		if err := json.Unmarshal(optionOrder, &a.OptionOrder); err != nil {
			return nil, fmt.Errorf("decode option_order: %w", err)
		}
	}
	return a, nil
}

// GetAttempt retrieves an attempt by id.
func (q *Queries) GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(q.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetAttemptForUpdate retrieves an attempt and locks its row.
func (q *Queries) GetAttemptForUpdate(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(q.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, id))
}

// FindOpenAttempt locks the student's not_started or in_progress attempt for
// the exam reference, if any.
func (q *Queries) FindOpenAttempt(ctx context.Context, studentID int, ref model.ExamRef) (*model.Attempt, error) {
	return scanAttempt(q.db.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE student_id = $1 AND `+refColumn(ref)+` = $2
		   AND status IN ('not_started', 'in_progress')
		 ORDER BY attempt_number DESC
		 LIMIT 1
		 FOR UPDATE`, studentID, ref.ID))
}

// CountTerminalAttempts counts the student's finished attempts for the exam
// reference.
func (q *Queries) CountTerminalAttempts(ctx context.Context, studentID int, ref model.ExamRef) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts
		 WHERE student_id = $1 AND `+refColumn(ref)+` = $2
		   AND status IN ('completed', 'submitted', 'auto_submitted')`,
		studentID, ref.ID,
	).Scan(&n)
	return n, mapErr(err)
}

// CreateAttempt inserts a new attempt. A concurrent open attempt for the same
// student and exam reference makes the insert a no-op, reported as
// ErrDuplicate.
func (q *Queries) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	qo, oo, err := encodeOrders(a)
	if err != nil {
		return err
	}
	err = q.db.QueryRow(ctx,
		`INSERT INTO attempts (id, exam_id, exam_schedule_id, student_id, attempt_number, status,
		                       start_time, duration_minutes, ip_address, user_agent, browser_info,
		                       question_order, option_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13::jsonb)
		 ON CONFLICT DO NOTHING
		 RETURNING created_at, updated_at`,
		a.ID, a.ExamID, a.ExamScheduleID, a.StudentID, a.AttemptNumber, a.Status,
		a.StartTime, a.DurationMinutes, a.IPAddress, a.UserAgent, nullableJSON(a.BrowserInfo),
		qo, oo,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	return mapErr(err)
}

// ActivateAttempt moves a not_started attempt to in_progress, storing the
// start time, frozen duration and orders.
func (q *Queries) ActivateAttempt(ctx context.Context, a *model.Attempt) error {
	qo, oo, err := encodeOrders(a)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE attempts
		 SET status = 'in_progress', start_time = $2, duration_minutes = $3,
		     ip_address = $4, user_agent = $5, browser_info = COALESCE($6::jsonb, browser_info),
		     question_order = $7::jsonb, option_order = $8::jsonb, updated_at = NOW()
		 WHERE id = $1 AND status = 'not_started'`,
		a.ID, a.StartTime, a.DurationMinutes, a.IPAddress, a.UserAgent, nullableJSON(a.BrowserInfo), qo, oo,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	a.Status = model.AttemptStatusInProgress
	return nil
}

// MarkAttemptSubmitted writes the terminal status, trigger and timing of a.
func (q *Queries) MarkAttemptSubmitted(ctx context.Context, a *model.Attempt) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, submit_trigger = $3, end_time = $4, time_taken_seconds = $5, updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		a.ID, a.Status, a.SubmitTrigger, a.EndTime, a.TimeTakenSeconds,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAttemptScore overwrites the aggregate score of an attempt.
func (q *Queries) UpdateAttemptScore(ctx context.Context, id uuid.UUID, total, percentage float64, finalizedAt time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE attempts
		 SET total_score = $2, percentage = $3, finalized_at = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, total, percentage, finalizedAt,
	)
	return err
}

// IncrementTabSwitches atomically bumps the counter of an in_progress
// attempt. ErrNotFound means the attempt is missing or no longer in progress.
func (q *Queries) IncrementTabSwitches(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`UPDATE attempts
		 SET tab_switches = tab_switches + 1, updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'
		 RETURNING tab_switches`, id,
	).Scan(&n)
	return n, mapErr(err)
}

// ListExpiredAttempts returns in_progress attempts whose duration plus grace
// has elapsed at now, oldest first.
func (q *Queries) ListExpiredAttempts(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id FROM attempts
		 WHERE status = 'in_progress'
		   AND start_time + make_interval(mins => duration_minutes) + make_interval(secs => $2) < $1
		 ORDER BY start_time
		 LIMIT $3`,
		now, grace.Seconds(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAttempts returns a page of attempt summaries for an exam reference.
func (q *Queries) ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.AttemptSummary, int64, error) {
	where := ` FROM attempts WHERE ` + refColumn(f.Ref) + ` = $1`
	args := []any{f.Ref.ID}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.PerPage
	args = append(args, f.PerPage, offset)
	rows, err := q.db.Query(ctx,
		`SELECT id, student_id, attempt_number, status, start_time, end_time,
		        time_taken_seconds, total_score, percentage, tab_switches`+where+
			fmt.Sprintf(" ORDER BY student_id, attempt_number LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.AttemptID, &s.StudentID, &s.AttemptNumber, &s.Status, &s.StartTime,
			&s.EndTime, &s.TimeTakenSeconds, &s.TotalScore, &s.Percentage, &s.TabSwitches); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// ListAttemptOutcomes returns status and score of every attempt for an exam
// reference.
func (q *Queries) ListAttemptOutcomes(ctx context.Context, ref model.ExamRef) ([]AttemptOutcome, error) {
	rows, err := q.db.Query(ctx,
		`SELECT status, percentage, tab_switches, finalized_at IS NOT NULL
		 FROM attempts WHERE `+refColumn(ref)+` = $1`, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptOutcome
	for rows.Next() {
		var o AttemptOutcome
		if err := rows.Scan(&o.Status, &o.Percentage, &o.TabSwitches, &o.Finalized); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func encodeOrders(a *model.Attempt) (string, string, error) {
	order := a.QuestionOrder
	if order == nil {
		order = []uuid.UUID{}
	}
	qo, err := json.Marshal(order)
	if err != nil {
		return "", "", fmt.Errorf("encode question_order: %w", err)
	}
	options := a.OptionOrder
	if options == nil {
		options = map[string][]string{}
	}
	oo, err := json.Marshal(options)
	if err != nil {
		return "", "", fmt.Errorf("encode option_order: %w", err)
	}
	return string(qo), string(oo), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
