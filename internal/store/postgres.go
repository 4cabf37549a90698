package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores jobs through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id UUID PRIMARY KEY,
            name TEXT NOT NULL,
            commands TEXT[] NOT NULL,
            schedule TEXT NOT NULL,
            enabled BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS executions (
            id UUID PRIMARY KEY,
            job_id UUID NOT NULL,
            success BOOLEAN NOT NULL,
            output TEXT,
            started_at TIMESTAMPTZ NOT NULL,
            ended_at TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_executions_job_started ON executions(job_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at DESC);`,
	}
	for _, q := range ddl {
		if _, err := p.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
	}
	return nil
}

func scanPostgresJob(row pgx.Row) (types.Job, error) {
	var (
		j  types.Job
		id uuid.UUID
	)
	if err := row.Scan(&id, &j.Name, &j.Commands, &j.Schedule, &j.Enabled, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return types.Job{}, err
	}
	j.ID = id.String()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return j, nil
}

func (p *Postgres) queryJobs(ctx context.Context, query string, args ...any) ([]types.Job, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []types.Job{}
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) ListEnabledJobs(ctx context.Context) ([]types.Job, error) {
	return p.queryJobs(ctx, `
		SELECT id, name, commands, schedule, enabled, created_at, updated_at
		FROM jobs WHERE enabled
		ORDER BY created_at, id
	`)
}

func (p *Postgres) ListJobs(ctx context.Context) ([]types.Job, error) {
	return p.queryJobs(ctx, `
		SELECT id, name, commands, schedule, enabled, created_at, updated_at
		FROM jobs
		ORDER BY created_at, id
	`)
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*types.Job, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, commands, schedule, enabled, created_at, updated_at
		FROM jobs WHERE id=$1
	`, jobID)
	j, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (p *Postgres) CreateJob(ctx context.Context, job *types.Job) error {
	if err := prepareNewJob(job, time.Now().UTC()); err != nil {
		return err
	}
	jobID, err := uuid.Parse(job.ID)
	if err != nil {
		return fmt.Errorf("job id %q is not a uuid: %w", job.ID, err)
	}
	commands := job.Commands
	if commands == nil {
		commands = []string{}
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO jobs (id, name, commands, schedule, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, jobID, job.Name, commands, job.Schedule, job.Enabled, job.CreatedAt, job.UpdatedAt)
	return err
}

func (p *Postgres) UpdateJob(ctx context.Context, job *types.Job) error {
	if err := checkJob(job); err != nil {
		return err
	}
	jobID, err := uuid.Parse(job.ID)
	if err != nil {
		return ErrNotFound
	}
	commands := job.Commands
	if commands == nil {
		commands = []string{}
	}
	row := p.pool.QueryRow(ctx, `
		UPDATE jobs
		SET name=$2, commands=$3, schedule=$4, enabled=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING created_at, updated_at
	`, jobID, job.Name, commands, job.Schedule, job.Enabled)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return nil
}

func (p *Postgres) DeleteJob(ctx context.Context, id string) error {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendExecution(ctx context.Context, jobID string, success bool, output *string, startedAt, endedAt time.Time) (*types.Execution, error) {
	jid, err := uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("job id %q is not a uuid: %w", jobID, err)
	}
	id := uuid.New()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO executions (id, job_id, success, output, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, id, jid, success, output, startedAt, endedAt)
	if err != nil {
		return nil, err
	}
	return &types.Execution{
		ID:        id.String(),
		JobID:     jobID,
		Success:   success,
		Output:    output,
		StartedAt: startedAt.UTC(),
		EndedAt:   endedAt.UTC(),
	}, nil
}

func scanPostgresExecution(row pgx.Row) (types.Execution, error) {
	var (
		e         types.Execution
		id, jobID uuid.UUID
	)
	if err := row.Scan(&id, &jobID, &e.Success, &e.Output, &e.StartedAt, &e.EndedAt); err != nil {
		return types.Execution{}, err
	}
	e.ID = id.String()
	e.JobID = jobID.String()
	e.StartedAt = e.StartedAt.UTC()
	e.EndedAt = e.EndedAt.UTC()
	return e, nil
}

func (p *Postgres) FindLatestExecution(ctx context.Context, jobID string) (*types.Execution, error) {
	jid, err := uuid.Parse(jobID)
	if err != nil {
		return nil, nil
	}
	row := p.pool.QueryRow(ctx, `
		SELECT id, job_id, success, output, started_at, ended_at
		FROM executions WHERE job_id=$1
		ORDER BY started_at DESC, created_at DESC
		LIMIT 1
	`, jid)
	e, err := scanPostgresExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]types.Execution, int, error) {
	filter = normalizeFilter(filter)

	// a NULL job filter selects every job
	var jobID *uuid.UUID
	if filter.JobID != "" {
		jid, err := uuid.Parse(filter.JobID)
		if err != nil {
			return []types.Execution{}, 0, nil
		}
		jobID = &jid
	}

	var total int
	if err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM executions WHERE $1::uuid IS NULL OR job_id=$1
	`, jobID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, job_id, success, output, started_at, ended_at
		FROM executions
		WHERE $1::uuid IS NULL OR job_id=$1
		ORDER BY started_at DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, jobID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []types.Execution{}
	for rows.Next() {
		e, err := scanPostgresExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
