package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

type expiredLister interface {
	ListExpiredAttempts(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]uuid.UUID, error)
}

type attemptSubmitter interface {
	Submit(ctx context.Context, attemptID uuid.UUID, trigger model.SubmitTrigger) (*model.Attempt, error)
}

type heartbeatReader interface {
	LastSeen(ctx context.Context, attemptID uuid.UUID) (*repository.Beat, error)
}

type leaderLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// ExpirySweeper closes attempts whose time ran out while nobody was around
// to submit them: closed tabs, dead laptops, lost networks. Only one replica
// sweeps per tick.
type ExpirySweeper struct {
	attempts   expiredLister
	submitter  attemptSubmitter
	heartbeats heartbeatReader
	lock       leaderLock

	interval         time.Duration
	grace            time.Duration
	heartbeatTimeout time.Duration
	batchSize        int

	log zerolog.Logger
	now func() time.Time
}

// NewExpirySweeper creates a new ExpirySweeper.
func NewExpirySweeper(
	attempts expiredLister,
	submitter attemptSubmitter,
	heartbeats heartbeatReader,
	lock leaderLock,
	cfg *config.Config,
	log zerolog.Logger,
) *ExpirySweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{
		attempts:         attempts,
		submitter:        submitter,
		heartbeats:       heartbeats,
		lock:             lock,
		interval:         interval,
		grace:            cfg.SubmitGrace,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		batchSize:        max(cfg.SweepBatchSize, 1),
		log:              log.With().Str("component", "expiry_sweeper").Logger(),
		now:              time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled. Call in a goroutine.
func (w *ExpirySweeper) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Int("batch_size", w.batchSize).Msg("ExpirySweeper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpirySweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}

// Sweep submits one batch of overdue attempts and returns how many it
// closed. A replica that does not hold the lock sweeps nothing.
func (w *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	key := config.CacheKey.ExpirySweepLockKey()
	ok, err := w.lock.Acquire(ctx, key, w.interval)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := w.lock.Release(context.WithoutCancel(ctx), key); err != nil {
			w.log.Warn().Err(err).Msg("Failed to release sweep lock")
		}
	}()

	now := w.now()
	ids, err := w.attempts.ListExpiredAttempts(ctx, now, w.grace, w.batchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		trigger := w.triggerFor(ctx, id, now)
		a, err := w.submitter.Submit(ctx, id, trigger)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Failed to close expired attempt")
			continue
		}
		closed++
		w.log.Info().
			Str("attempt_id", id.String()).
			Str("trigger", string(trigger)).
			Str("status", string(a.Status)).
			Msg("Expired attempt closed")
	}

	if len(ids) > 0 {
		w.log.Info().Int("found", len(ids)).Int("closed", closed).Msg("Sweep complete")
	}
	return closed, nil
}

// triggerFor picks disconnect-timeout when the client stopped beating,
// auto otherwise.
func (w *ExpirySweeper) triggerFor(ctx context.Context, id uuid.UUID, now time.Time) model.SubmitTrigger {
	beat, err := w.heartbeats.LastSeen(ctx, id)
	if err != nil {
		w.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Heartbeat lookup failed, assuming auto")
		return model.SubmitTriggerAuto
	}
	if beat == nil || now.Sub(beat.At) > w.heartbeatTimeout {
		return model.SubmitTriggerDisconnectTimeout
	}
	return model.SubmitTriggerAuto
}
