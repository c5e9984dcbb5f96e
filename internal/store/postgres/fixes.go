package postgres

import (
	"context"
	"database/sql"
	"errors"

	"agentplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) SaveFixAttempt(ctx context.Context, attempt *store.FixAttempt) error {
	query := `
		INSERT INTO fix_attempts (id, job_id, explanation, scenario_ids, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			explanation = EXCLUDED.explanation,
			scenario_ids = EXCLUDED.scenario_ids
	`

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.JobID,
		attempt.Explanation,
		pq.Array(attempt.ScenarioIDs),
		attempt.CreatedAt,
	)
	return err
}

func (s *Store) GetFixAttempt(ctx context.Context, id string) (*store.FixAttempt, error) {
	query := `SELECT id, job_id, explanation, scenario_ids, created_at FROM fix_attempts WHERE id = $1`

	var attempt store.FixAttempt
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&attempt.ID,
		&attempt.JobID,
		&attempt.Explanation,
		pq.Array(&attempt.ScenarioIDs),
		&attempt.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (s *Store) SavePullRequest(ctx context.Context, pr *store.PullRequestRecord) error {
	query := `
		INSERT INTO pull_requests (id, job_id, branch, url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, pr.ID, pr.JobID, pr.Branch, pr.URL, pr.CreatedAt)
	return err
}

func (s *Store) ListPullRequests(ctx context.Context, jobID uuid.UUID) ([]store.PullRequestRecord, error) {
	query := `
		SELECT id, job_id, branch, url, created_at
		FROM pull_requests
		WHERE job_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []store.PullRequestRecord
	for rows.Next() {
		var pr store.PullRequestRecord
		if err := rows.Scan(&pr.ID, &pr.JobID, &pr.Branch, &pr.URL, &pr.CreatedAt); err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}
