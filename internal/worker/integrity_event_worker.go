package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const (
	EventBatchSize    = 50
	EventBatchTimeout = 2 * time.Second
	EventPollTimeout  = 1 * time.Second // Redis rejects BLPOP timeouts under 1s
)

var integrityEventColumns = []string{"attempt_id", "student_id", "event_type", "event_data", "recorded_at"}

// IntegrityEventWorker drains persist_integrity_events_queue into
// attempt_integrity_events in batches.
type IntegrityEventWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewIntegrityEventWorker creates a new IntegrityEventWorker.
func NewIntegrityEventWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *IntegrityEventWorker {
	return &IntegrityEventWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "integrity_event_worker").Logger(),
	}
}

// Start runs the consume loop until ctx is cancelled, then flushes what it
// holds. Call in a goroutine.
func (w *IntegrityEventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("IntegrityEventWorker started")

	buffer := make([]*model.IntegrityEventJob, 0, EventBatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= EventBatchSize || time.Since(lastFlush) >= EventBatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, EventPollTimeout, config.WorkerKey.PersistIntegrityEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job model.IntegrityEventJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			// Malformed JSON can never succeed; drop it.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed integrity event")
			continue
		}
		buffer = append(buffer, &job)
	}
}

// flushSafe tries COPY, then row-by-row inserts, then requeues what still
// failed.
func (w *IntegrityEventWorker) flushSafe(ctx context.Context, batch []*model.IntegrityEventJob) {
	if len(batch) == 0 {
		return
	}
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Integrity events persisted")
}

// eventRow converts a job into a COPY row. Invalid jobs return ok=false.
func eventRow(job *model.IntegrityEventJob) (row []any, ok bool) {
	attemptID, err := uuid.Parse(job.AttemptID)
	if err != nil || job.Type == "" {
		return nil, false
	}
	data := job.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return []any{attemptID, job.StudentID, string(job.Type), string(data), time.Unix(job.Timestamp, 0)}, true
}

func (w *IntegrityEventWorker) bulkInsert(ctx context.Context, batch []*model.IntegrityEventJob) error {
	rows := make([][]any, 0, len(batch))
	for _, job := range batch {
		row, ok := eventRow(job)
		if !ok {
			// The fallback path drops the bad row and keeps the rest.
			return errors.New("invalid integrity event in batch")
		}
		rows = append(rows, row)
	}

	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"attempt_integrity_events"}, integrityEventColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *IntegrityEventWorker) fallbackInsert(ctx context.Context, batch []*model.IntegrityEventJob) {
	requeue := make([]*model.IntegrityEventJob, 0)

	for _, job := range batch {
		row, ok := eventRow(job)
		if !ok {
			w.log.Error().Str("attempt_id", job.AttemptID).Str("type", string(job.Type)).Msg("Dropping invalid integrity event")
			continue
		}

		_, err := w.pool.Exec(ctx,
			`INSERT INTO attempt_integrity_events (attempt_id, student_id, event_type, event_data, recorded_at)
			 VALUES ($1, $2, $3, $4::jsonb, $5)`,
			row...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", job.AttemptID).Msg("Insert failed, requeueing")
			requeue = append(requeue, job)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *IntegrityEventWorker) requeue(ctx context.Context, items []*model.IntegrityEventJob) {
	pipe := w.rdb.Pipeline()
	for _, job := range items {
		data, _ := json.Marshal(job)
		pipe.RPush(ctx, config.WorkerKey.PersistIntegrityEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue integrity events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed integrity events")
	// Back off so a downed database is not hammered.
	time.Sleep(2 * time.Second)
}

func (w *IntegrityEventWorker) shutdown(buffer []*model.IntegrityEventJob) {
	w.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(ctx, buffer)
}
