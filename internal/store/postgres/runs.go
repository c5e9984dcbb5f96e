package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"agentplane/internal/store"
)

func (s *Store) SaveRun(ctx context.Context, run *store.Run) error {
	query := `
		INSERT INTO runs (id, job_id, items, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			items = EXCLUDED.items,
			completed_at = EXCLUDED.completed_at
	`

	items, err := json.Marshal(run.Items)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, run.ID, run.JobID, items, run.StartedAt, run.CompletedAt)
	return err
}

func (s *Store) GetRunByID(ctx context.Context, id string) (*store.Run, error) {
	query := `SELECT id, job_id, items, started_at, completed_at FROM runs WHERE id = $1`

	var (
		run   store.Run
		items []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.JobID, &items, &run.StartedAt, &run.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &run.Items); err != nil {
		return nil, err
	}
	return &run, nil
}
