package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// HeartbeatStore keeps the last heartbeat of each attempt.
type HeartbeatStore interface {
	Touch(ctx context.Context, attemptID uuid.UUID, b repository.Beat) (*repository.Beat, error)
	LastSeen(ctx context.Context, attemptID uuid.UUID) (*repository.Beat, error)
}

// JobQueue hands work to background workers.
type JobQueue interface {
	Push(ctx context.Context, queue string, v any) error
}

// HeartbeatInput is one client liveness ping.
type HeartbeatInput struct {
	AttemptID uuid.UUID
	StudentID int
	IPAddress string
	UserAgent string
}

// IntegrityService collects anti-cheat telemetry. Nothing here blocks or
// fails an exam; anomalies are recorded for human review.
type IntegrityService struct {
	store      repository.Store
	heartbeats HeartbeatStore
	queue      JobQueue
	log        zerolog.Logger
	now        func() time.Time
}

// NewIntegrityService creates a new IntegrityService.
func NewIntegrityService(store repository.Store, heartbeats HeartbeatStore, queue JobQueue, log zerolog.Logger) *IntegrityService {
	return &IntegrityService{
		store:      store,
		heartbeats: heartbeats,
		queue:      queue,
		log:        log.With().Str("component", "integrity_service").Logger(),
		now:        time.Now,
	}
}

// RecordTabSwitch counts one focus loss. Once the attempt is terminal the
// counter is frozen and its final value is returned.
func (s *IntegrityService) RecordTabSwitch(ctx context.Context, attemptID uuid.UUID, studentID int) (int, error) {
	a, err := ownedAttempt(ctx, s.store, attemptID, studentID)
	if err != nil {
		return 0, err
	}
	if a.Status.IsTerminal() {
		return a.TabSwitches, nil
	}
	if a.Status != model.AttemptStatusInProgress {
		return 0, ErrAttemptNotActive
	}

	n, err := s.store.IncrementTabSwitches(ctx, attemptID)
	if errors.Is(err, repository.ErrNotFound) {
		// Submitted between the read and the increment.
		a, err = ownedAttempt(ctx, s.store, attemptID, studentID)
		if err != nil {
			return 0, err
		}
		return a.TabSwitches, nil
	}
	if err != nil {
		return 0, fmt.Errorf("increment tab switches: %w", err)
	}

	s.emit(ctx, a, model.IntegrityEventTabSwitch, map[string]any{"count": n})
	return n, nil
}

// RefreshHeartbeat records that the client is alive. A change of IP address
// or user agent since the previous beat is logged as an integrity event.
func (s *IntegrityService) RefreshHeartbeat(ctx context.Context, in HeartbeatInput) (*model.HeartbeatAck, error) {
	a, err := ownedAttempt(ctx, s.store, in.AttemptID, in.StudentID)
	if err != nil {
		return nil, err
	}

	ack := &model.HeartbeatAck{Status: a.Status, TabSwitches: a.TabSwitches}
	if a.Status != model.AttemptStatusInProgress {
		return ack, nil
	}
	now := s.now()
	ack.RemainingTime = max(a.Deadline().Sub(now).Seconds(), 0)

	prev, err := s.heartbeats.Touch(ctx, a.ID, repository.Beat{At: now, IPAddress: in.IPAddress, UserAgent: in.UserAgent})
	if err != nil {
		return nil, fmt.Errorf("store heartbeat: %w", err)
	}

	baseIP, baseUA := a.IPAddress, a.UserAgent
	if prev != nil {
		baseIP, baseUA = prev.IPAddress, prev.UserAgent
	}
	if fingerprintChanged(baseIP, baseUA, in.IPAddress, in.UserAgent) {
		s.emit(ctx, a, model.IntegrityEventFingerprintChanged, map[string]any{
			"previous_ip":         baseIP,
			"previous_user_agent": baseUA,
			"ip_address":          in.IPAddress,
			"user_agent":          in.UserAgent,
		})
	}
	return ack, nil
}

func fingerprintChanged(prevIP, prevUA, ip, ua string) bool {
	return (prevIP != "" && ip != "" && prevIP != ip) || (prevUA != "" && ua != "" && prevUA != ua)
}

// emit queues an event for bulk persistence. Failures are logged only.
func (s *IntegrityService) emit(ctx context.Context, a *model.Attempt, t model.IntegrityEventType, data map[string]any) {
	raw, _ := json.Marshal(data)
	job := model.IntegrityEventJob{
		AttemptID: a.ID.String(),
		StudentID: a.StudentID,
		Type:      t,
		Data:      raw,
		Timestamp: s.now().Unix(),
	}
	if err := s.queue.Push(ctx, config.WorkerKey.PersistIntegrityEventsQueue, job); err != nil {
		s.log.Error().Err(err).
			Str("attempt_id", job.AttemptID).
			Str("type", string(t)).
			Msg("Failed to queue integrity event")
	}
}

// GetReport gathers an attempt's telemetry for reviewers.
func (s *IntegrityService) GetReport(ctx context.Context, attemptID uuid.UUID) (*model.IntegrityReport, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	events, err := s.store.ListIntegrityEvents(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list integrity events: %w", err)
	}

	report := &model.IntegrityReport{
		AttemptID:   a.ID,
		Status:      a.Status,
		TabSwitches: a.TabSwitches,
		IPAddress:   a.IPAddress,
		UserAgent:   a.UserAgent,
		BrowserInfo: a.BrowserInfo,
		Events:      events,
	}
	beat, err := s.heartbeats.LastSeen(ctx, attemptID)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Heartbeat lookup failed")
	} else if beat != nil {
		report.LastHeartbeatAt = &beat.At
	}
	return report, nil
}
