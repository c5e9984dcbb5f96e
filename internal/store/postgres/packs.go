package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"agentplane/internal/store"
)

func (s *Store) SaveScenarioPack(ctx context.Context, pack *store.ScenarioPack) error {
	query := `
		INSERT INTO scenario_packs (id, project_id, name, scenarios, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			scenarios = EXCLUDED.scenarios
	`

	scenarios, err := json.Marshal(pack.Scenarios)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, pack.ID, pack.ProjectID, pack.Name, scenarios, pack.CreatedAt)
	return err
}

func (s *Store) GetScenarioPack(ctx context.Context, id string) (*store.ScenarioPack, error) {
	query := `SELECT id, project_id, name, scenarios, created_at FROM scenario_packs WHERE id = $1`

	var (
		pack      store.ScenarioPack
		scenarios []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&pack.ID, &pack.ProjectID, &pack.Name, &scenarios, &pack.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(scenarios, &pack.Scenarios); err != nil {
		return nil, err
	}
	return &pack, nil
}
