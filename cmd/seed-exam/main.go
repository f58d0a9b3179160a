package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/model"
)

func main() {
	var path string
	flag.StringVar(&path, "file", "", "Path to the exam YAML fixture")
	flag.Parse()
	if path == "" {
		fmt.Println("Usage: seed-exam -file exam.yaml")
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f, err := loadFixture(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Invalid fixture")
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if err := seed(ctx, pool, f); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	fmt.Printf("Seeded exam %q (%s): %d questions, %d schedules, %d ledger rows\n",
		f.Exam.Title, f.Exam.ID, len(f.Questions), len(f.Schedules), len(f.Ledger))
	for _, s := range f.Schedules {
		fmt.Printf("  schedule %s: %s → %s\n", s.ID, s.StartsAt.Format(time.RFC3339), s.EndsAt.Format(time.RFC3339))
	}
}

// seed writes the whole fixture in one transaction. Re-running a fixture
// with fixed ids updates the rows in place.
func seed(ctx context.Context, pool *pgxpool.Pool, f *fixture) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		e := f.Exam
		if _, err := tx.Exec(ctx,
			`INSERT INTO exam_definitions (id, title, subject_id, term_id, duration_minutes, attempts_allowed,
			                               randomize_questions, randomize_options, pass_mark, auto_submit,
			                               show_results_immediately, proctoring, exam_score_ceiling, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (id) DO UPDATE
			 SET title = EXCLUDED.title, subject_id = EXCLUDED.subject_id, term_id = EXCLUDED.term_id,
			     duration_minutes = EXCLUDED.duration_minutes, attempts_allowed = EXCLUDED.attempts_allowed,
			     randomize_questions = EXCLUDED.randomize_questions, randomize_options = EXCLUDED.randomize_options,
			     pass_mark = EXCLUDED.pass_mark, auto_submit = EXCLUDED.auto_submit,
			     show_results_immediately = EXCLUDED.show_results_immediately, proctoring = EXCLUDED.proctoring,
			     exam_score_ceiling = EXCLUDED.exam_score_ceiling, status = EXCLUDED.status, updated_at = NOW()`,
			e.ID, e.Title, e.SubjectID, e.TermID, e.DurationMinutes, e.AttemptsAllowed,
			e.RandomizeQuestions, e.RandomizeOptions, e.PassMark, *e.AutoSubmit,
			e.ShowResultsImmediately, e.Proctoring, e.ExamScoreCeiling, string(e.Status),
		); err != nil {
			return fmt.Errorf("upsert exam: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, e.ID); err != nil {
			return fmt.Errorf("clear exam questions: %w", err)
		}
		for i, q := range f.Questions {
			payload, err := model.EncodePayload(q.payload())
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO questions (id, question_type, question_text, marks, time_limit_seconds, payload)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (id) DO UPDATE
				 SET question_type = EXCLUDED.question_type, question_text = EXCLUDED.question_text,
				     marks = EXCLUDED.marks, time_limit_seconds = EXCLUDED.time_limit_seconds,
				     payload = EXCLUDED.payload`,
				q.ID, string(q.Type), q.Text, q.Marks, q.TimeLimit, payload,
			); err != nil {
				return fmt.Errorf("upsert question %d: %w", i, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO exam_questions (exam_id, question_id, marks, order_num) VALUES ($1, $2, $3, $4)`,
				e.ID, q.ID, q.Marks, i+1,
			); err != nil {
				return fmt.Errorf("link question %d: %w", i, err)
			}
		}

		for _, s := range f.Schedules {
			if _, err := tx.Exec(ctx,
				`INSERT INTO exam_schedules (id, exam_id, starts_at, ends_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (id) DO UPDATE SET starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at`,
				s.ID, e.ID, s.StartsAt, s.EndsAt,
			); err != nil {
				return fmt.Errorf("upsert schedule %s: %w", s.ID, err)
			}
		}

		for _, l := range f.Ledger {
			if _, err := tx.Exec(ctx,
				`INSERT INTO result_records (student_id, subject_id, term_id, ca_score, manual_exam_score, exam_score)
				 VALUES ($1, $2, $3, $4, $5, $5)
				 ON CONFLICT (student_id, subject_id, term_id) DO UPDATE
				 SET ca_score = EXCLUDED.ca_score, manual_exam_score = EXCLUDED.manual_exam_score, updated_at = NOW()`,
				l.StudentID, *e.SubjectID, *e.TermID, l.CAScore, l.ManualExamScore,
			); err != nil {
				return fmt.Errorf("upsert ledger row for student %d: %w", l.StudentID, err)
			}
		}
		return nil
	})
}
