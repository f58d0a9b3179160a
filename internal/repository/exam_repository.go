package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ExamRepository reads exam definitions, schedules and question bank entries.
// Authoring happens in another system; nothing here writes.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetDefinition retrieves an exam definition together with its question refs.
func (r *ExamRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	d := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject_id, term_id, duration_minutes, attempts_allowed,
		        randomize_questions, randomize_options, pass_mark, auto_submit,
		        show_results_immediately, proctoring, exam_score_ceiling, status,
		        created_at, updated_at
		 FROM exam_definitions WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.SubjectID, &d.TermID, &d.DurationMinutes, &d.AttemptsAllowed,
		&d.RandomizeQuestions, &d.RandomizeOptions, &d.PassMark, &d.AutoSubmit,
		&d.ShowResultsImmediately, &d.Proctoring, &d.ExamScoreCeiling, &d.Status,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, marks, order_num
		 FROM exam_questions
		 WHERE exam_id = $1
		 ORDER BY order_num, question_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var qr model.QuestionRef
		if err := rows.Scan(&qr.QuestionID, &qr.Marks, &qr.Order); err != nil {
			return nil, err
		}
		d.Questions = append(d.Questions, qr)
	}
	return d, rows.Err()
}

// GetSchedule retrieves an exam schedule.
func (r *ExamRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*model.ExamSchedule, error) {
	s := &model.ExamSchedule{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, starts_at, ends_at, is_active
		 FROM exam_schedules WHERE id = $1`, id,
	).Scan(&s.ID, &s.ExamID, &s.StartsAt, &s.EndsAt, &s.IsActive)
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// ListQuestions retrieves question bank entries by id.
func (r *ExamRepository) ListQuestions(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_type, question_text, marks, time_limit_seconds, payload
		 FROM questions WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var q model.Question
		var payload []byte
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &q.Marks, &q.TimeLimitSeconds, &payload); err != nil {
			return nil, err
		}
		q.Payload, err = model.DecodePayload(q.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// LoadView resolves ref into a full ExamView.
func (r *ExamRepository) LoadView(ctx context.Context, ref model.ExamRef) (*model.ExamView, error) {
	var sched *model.ExamSchedule
	examID := ref.ID
	if ref.Kind == model.ExamRefScheduled {
		s, err := r.GetSchedule(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("get schedule: %w", err)
		}
		sched = s
		examID = s.ExamID
	}

	def, err := r.GetDefinition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	ids := make([]uuid.UUID, len(def.Questions))
	for i, qr := range def.Questions {
		ids[i] = qr.QuestionID
	}
	questions, err := r.ListQuestions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return model.NewExamView(ref, *def, sched, questions), nil
}

// ListLiveRefs returns every reference a student could start right now:
// published definitions and active schedules that have not ended.
func (r *ExamRepository) ListLiveRefs(ctx context.Context) ([]model.ExamRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT 'direct', id FROM exam_definitions WHERE status = 'PUBLISHED'
		 UNION ALL
		 SELECT 'scheduled', s.id
		 FROM exam_schedules s
		 JOIN exam_definitions d ON d.id = s.exam_id
		 WHERE s.is_active AND s.ends_at > NOW() AND d.status = 'PUBLISHED'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []model.ExamRef
	for rows.Next() {
		var ref model.ExamRef
		if err := rows.Scan(&ref.Kind, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
