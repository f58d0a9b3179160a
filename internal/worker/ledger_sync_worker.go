package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const LedgerPollTimeout = 1 * time.Second

type ledgerRetrier interface {
	SyncToResultLedger(ctx context.Context, attemptID uuid.UUID) (*model.ResultRecord, error)
	Enqueue(ctx context.Context, job model.LedgerSyncJob) error
}

// jobOutcome says what happened to one retry job.
type jobOutcome int

const (
	outcomeSynced jobOutcome = iota
	outcomeNotDue
	outcomeRequeued
	outcomeDropped
)

// LedgerSyncWorker retries result-ledger syncs that failed at submit time,
// typically because the academic-records row did not exist yet.
type LedgerSyncWorker struct {
	rdb        *redis.Client
	ledger     ledgerRetrier
	maxRetries int
	log        zerolog.Logger
	now        func() time.Time
}

// NewLedgerSyncWorker creates a new LedgerSyncWorker.
func NewLedgerSyncWorker(rdb *redis.Client, ledger ledgerRetrier, cfg *config.Config, log zerolog.Logger) *LedgerSyncWorker {
	return &LedgerSyncWorker{
		rdb:        rdb,
		ledger:     ledger,
		maxRetries: max(cfg.LedgerMaxRetries, 1),
		log:        log.With().Str("component", "ledger_sync_worker").Logger(),
		now:        time.Now,
	}
}

// Start runs the consume loop until ctx is cancelled. Call in a goroutine.
func (w *LedgerSyncWorker) Start(ctx context.Context) {
	w.log.Info().Int("max_retries", w.maxRetries).Msg("LedgerSyncWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("LedgerSyncWorker stopped")
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, LedgerPollTimeout, config.WorkerKey.LedgerSyncRetryQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error, sleeping 3s")
				time.Sleep(3 * time.Second)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var job model.LedgerSyncJob
		if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
			w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed ledger job")
			continue
		}

		if w.process(ctx, job) == outcomeNotDue {
			// Put it back at the tail and give the rest of the queue a turn.
			if err := w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.LedgerSyncRetryQueue, item[1]).Err(); err != nil {
				w.log.Error().Err(err).Str("attempt_id", job.AttemptID).Msg("CRITICAL: Failed to requeue ledger job")
			}
			sleepCtx(ctx, time.Second)
		}
	}
}

// process handles one job. Jobs whose NotBefore lies in the future are left
// to the caller to requeue.
func (w *LedgerSyncWorker) process(ctx context.Context, job model.LedgerSyncJob) jobOutcome {
	attemptID, err := uuid.Parse(job.AttemptID)
	if err != nil {
		w.log.Error().Str("attempt_id", job.AttemptID).Msg("Dropping ledger job with invalid UUID")
		return outcomeDropped
	}
	if job.NotBefore > w.now().Unix() {
		return outcomeNotDue
	}

	l := w.log.With().Str("attempt_id", job.AttemptID).Int("tries", job.Tries).Logger()

	_, err = w.ledger.SyncToResultLedger(ctx, attemptID)
	switch {
	case err == nil:
		l.Info().Msg("Deferred ledger sync succeeded")
		return outcomeSynced
	case !service.Retryable(err):
		l.Warn().Err(err).Msg("Ledger sync failed permanently, dropping job")
		return outcomeDropped
	case job.Tries >= w.maxRetries:
		l.Error().Err(err).Msg("Ledger sync retries exhausted, dropping job")
		return outcomeDropped
	}

	// A job popped just before shutdown must survive the cancelled ctx.
	if err := w.ledger.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		l.Error().Err(err).Msg("CRITICAL: Failed to requeue ledger job")
		return outcomeDropped
	}
	l.Warn().Err(err).Msg("Ledger sync failed, retry scheduled")
	return outcomeRequeued
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
