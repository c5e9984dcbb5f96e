package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"agentplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SaveJob inserts or fully replaces a job row.
func (s *Store) SaveJob(ctx context.Context, job *store.ExecutionJob) error {
	query := `
		INSERT INTO execution_jobs
			(id, owner_id, project_id, scenario_pack_id, mode, status, constraints,
			 created_at, started_at, completed_at, run_id, fix_attempt_id,
			 pull_request_ids, summary, audit, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			constraints = EXCLUDED.constraints,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			run_id = EXCLUDED.run_id,
			fix_attempt_id = EXCLUDED.fix_attempt_id,
			pull_request_ids = EXCLUDED.pull_request_ids,
			summary = EXCLUDED.summary,
			audit = EXCLUDED.audit,
			error = EXCLUDED.error
	`

	constraints, err := json.Marshal(job.Constraints)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(job.Summary)
	if err != nil {
		return err
	}
	audit, err := json.Marshal(job.Audit)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.ProjectID,
		job.ScenarioPackID,
		job.Mode,
		job.Status,
		constraints,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.RunID,
		job.FixAttemptID,
		pq.Array(job.PullRequestIDs),
		summary,
		audit,
		job.Error,
	)
	return err
}

const jobColumns = `
	id, owner_id, project_id, scenario_pack_id, mode, status, constraints,
	created_at, started_at, completed_at, run_id, fix_attempt_id,
	pull_request_ids, summary, audit, error
`

func scanJob(row interface{ Scan(...any) error }) (*store.ExecutionJob, error) {
	var (
		job         store.ExecutionJob
		constraints []byte
		summary     []byte
		audit       []byte
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.ProjectID,
		&job.ScenarioPackID,
		&job.Mode,
		&job.Status,
		&constraints,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.RunID,
		&job.FixAttemptID,
		pq.Array(&job.PullRequestIDs),
		&summary,
		&audit,
		&job.Error,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(constraints, &job.Constraints); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &job.Summary); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audit, &job.Audit); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.ExecutionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM execution_jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return job, err
}

func (s *Store) ListActiveJobs(ctx context.Context, ownerID string) ([]*store.ExecutionJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM execution_jobs
		WHERE owner_id = $1 AND status IN ('queued', 'running')
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*store.ExecutionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) CountActiveJobs(ctx context.Context, ownerID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM execution_jobs
		WHERE owner_id = $1 AND status IN ('queued', 'running')
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, ownerID).Scan(&count)
	return count, err
}

func (s *Store) ListOwnersWithActiveJobs(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT owner_id FROM execution_jobs
		WHERE status IN ('queued', 'running')
		ORDER BY owner_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
