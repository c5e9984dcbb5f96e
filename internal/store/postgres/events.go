package postgres

import (
	"context"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) AppendEvent(ctx context.Context, event *store.JobEvent) error {
	query := `
		INSERT INTO job_events
			(job_id, sequence, event, phase, status, message, scenario_id, stage, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	return s.db.QueryRowContext(ctx, query,
		event.JobID,
		event.Sequence,
		event.Event,
		event.Phase,
		event.Status,
		event.Message,
		event.ScenarioID,
		event.Stage,
		event.Payload,
		event.Timestamp,
	).Scan(&event.ID)
}

func (s *Store) ListEvents(ctx context.Context, jobID uuid.UUID, afterSeq int64, limit int) ([]store.JobEvent, error) {
	query := `
		SELECT id, job_id, sequence, event, phase, status, message, scenario_id, stage, payload, timestamp
		FROM job_events
		WHERE job_id = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, jobID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.JobEvent
	for rows.Next() {
		var ev store.JobEvent
		if err := rows.Scan(
			&ev.ID, &ev.JobID, &ev.Sequence, &ev.Event, &ev.Phase, &ev.Status,
			&ev.Message, &ev.ScenarioID, &ev.Stage, &ev.Payload, &ev.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) LatestSequence(ctx context.Context, jobID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM job_events WHERE job_id = $1`

	var seq int64
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(&seq)
	return seq, err
}

func (s *Store) DeleteJobEvents(ctx context.Context, jobID uuid.UUID) error {
	query := `DELETE FROM job_events WHERE job_id = $1`
	_, err := s.db.ExecContext(ctx, query, jobID)
	return err
}
