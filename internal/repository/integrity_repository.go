package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ListIntegrityEvents retrieves recorded telemetry for an attempt, oldest
// first. Events are written in bulk by the integrity event worker.
func (q *Queries) ListIntegrityEvents(ctx context.Context, attemptID uuid.UUID) ([]model.IntegrityEvent, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, attempt_id, student_id, event_type, event_data, recorded_at
		 FROM attempt_integrity_events
		 WHERE attempt_id = $1
		 ORDER BY recorded_at, id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.IntegrityEvent{}
	for rows.Next() {
		var e model.IntegrityEvent
		var data []byte
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.StudentID, &e.Type, &data, &e.RecordedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			e.Data = json.RawMessage(data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
