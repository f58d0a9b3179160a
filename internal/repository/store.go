package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AttemptOutcome is the slice of an attempt that exam statistics need.
type AttemptOutcome struct {
	Status      model.AttemptStatus
	Percentage  float64
	TabSwitches int
	Finalized   bool
}

// Querier lists every attempt-side read and write. The *ForUpdate and
// FindOpenAttempt methods take row locks and are only meaningful inside
// Store.WithinTx.
type Querier interface {
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetAttemptForUpdate(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindOpenAttempt(ctx context.Context, studentID int, ref model.ExamRef) (*model.Attempt, error)
	CountTerminalAttempts(ctx context.Context, studentID int, ref model.ExamRef) (int, error)
	CreateAttempt(ctx context.Context, a *model.Attempt) error
	ActivateAttempt(ctx context.Context, a *model.Attempt) error
	MarkAttemptSubmitted(ctx context.Context, a *model.Attempt) error
	UpdateAttemptScore(ctx context.Context, id uuid.UUID, total, percentage float64, finalizedAt time.Time) error
	IncrementTabSwitches(ctx context.Context, id uuid.UUID) (int, error)
	ListExpiredAttempts(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]uuid.UUID, error)
	ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.AttemptSummary, int64, error)
	ListAttemptOutcomes(ctx context.Context, ref model.ExamRef) ([]AttemptOutcome, error)

	UpsertAnswer(ctx context.Context, a *model.Answer) error
	SetAnswerFlag(ctx context.Context, attemptID, questionID uuid.UUID, flagged bool) error
	GetAnswer(ctx context.Context, id uuid.UUID) (*model.Answer, error)
	GetAnswerForUpdate(ctx context.Context, id uuid.UUID) (*model.Answer, error)
	UpdateAnswerGrade(ctx context.Context, a *model.Answer) error
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
	ListUngradedAnswers(ctx context.Context, ref model.ExamRef, questionIDs []uuid.UUID) ([]model.PendingEssay, error)

	ListIntegrityEvents(ctx context.Context, attemptID uuid.UUID) ([]model.IntegrityEvent, error)

	GetResultRecordForUpdate(ctx context.Context, studentID, subjectID, termID int) (*model.ResultRecord, error)
	UpdateResultRecord(ctx context.Context, r *model.ResultRecord) error
}

// Store runs Querier methods either directly against the pool or inside a
// transaction.
type Store interface {
	Querier
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

// Queries implements Querier over any DBTX.
type Queries struct {
	db DBTX
}

// NewQueries binds Queries to a pool or transaction.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// PgStore is the PostgreSQL Store.
type PgStore struct {
	*Queries
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{Queries: NewQueries(pool), pool: pool}
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through q
// are held until fn returns; any error rolls back.
func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, NewQueries(tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
