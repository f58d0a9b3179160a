package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IntegrityEventType classifies anti-cheat telemetry.
type IntegrityEventType string

const (
	IntegrityEventTabSwitch          IntegrityEventType = "tab_switch"
	IntegrityEventFingerprintChanged IntegrityEventType = "fingerprint_changed"
)

// IntegrityEvent is one telemetry record kept for later human review.
type IntegrityEvent struct {
	ID         int64              `json:"id"`
	AttemptID  uuid.UUID          `json:"attempt_id"`
	StudentID  int                `json:"student_id"`
	Type       IntegrityEventType `json:"type"`
	Data       json.RawMessage    `json:"data,omitempty"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// IntegrityReport gathers an attempt's telemetry for reviewers.
type IntegrityReport struct {
	AttemptID       uuid.UUID        `json:"attempt_id"`
	Status          AttemptStatus    `json:"status"`
	TabSwitches     int              `json:"tab_switches"`
	IPAddress       string           `json:"ip_address"`
	UserAgent       string           `json:"user_agent"`
	BrowserInfo     json.RawMessage  `json:"browser_info,omitempty"`
	LastHeartbeatAt *time.Time       `json:"last_heartbeat_at,omitempty"`
	Events          []IntegrityEvent `json:"events"`
}

// IntegrityEventJob is the queued form of an IntegrityEvent.
type IntegrityEventJob struct {
	AttemptID string             `json:"attempt_id"`
	StudentID int                `json:"student_id"`
	Type      IntegrityEventType `json:"type"`
	Data      json.RawMessage    `json:"data,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// HeartbeatAck tells the client how its attempt stands.
type HeartbeatAck struct {
	Status        AttemptStatus `json:"status"`
	RemainingTime float64       `json:"remaining_time"`
	TabSwitches   int           `json:"tab_switches"`
}
