package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0xPuncker/job-scheduler/pkg/types"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite stores jobs in a single database file. Timestamps are unix milliseconds.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

const jobColumns = `id, name, commands, schedule, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (types.Job, error) {
	var (
		j                types.Job
		commands         string
		enabled          int
		created, updated int64
	)
	if err := row.Scan(&j.ID, &j.Name, &commands, &j.Schedule, &enabled, &created, &updated); err != nil {
		return types.Job{}, err
	}
	j.Commands = types.DecodeCommands(commands)
	j.Enabled = enabled != 0
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return j, nil
}

func (s *SQLite) queryJobs(ctx context.Context, query string, args ...any) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []types.Job{}
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLite) ListEnabledJobs(ctx context.Context) ([]types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE enabled = 1 ORDER BY created_at, id`)
}

func (s *SQLite) ListJobs(ctx context.Context) ([]types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLite) CreateJob(ctx context.Context, job *types.Job) error {
	if err := prepareNewJob(job, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?)`,
		job.ID, job.Name, types.EncodeCommands(job.Commands), job.Schedule, boolInt(job.Enabled),
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLite) UpdateJob(ctx context.Context, job *types.Job) error {
	if err := checkJob(job); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name = ?, commands = ?, schedule = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		job.Name, types.EncodeCommands(job.Commands), job.Schedule, boolInt(job.Enabled), now.UnixMilli(), job.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	job.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return nil
}

func (s *SQLite) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) AppendExecution(ctx context.Context, jobID string, success bool, output *string, startedAt, endedAt time.Time) (*types.Execution, error) {
	e := types.Execution{
		ID:        newID(),
		JobID:     jobID,
		Success:   success,
		Output:    output,
		StartedAt: time.UnixMilli(startedAt.UnixMilli()).UTC(),
		EndedAt:   time.UnixMilli(endedAt.UnixMilli()).UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, job_id, success, output, started_at, ended_at) VALUES(?,?,?,?,?,?)`,
		e.ID, e.JobID, boolInt(success), nullStr(output), e.StartedAt.UnixMilli(), e.EndedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const executionColumns = `id, job_id, success, output, started_at, ended_at`

func scanSQLiteExecution(row rowScanner) (types.Execution, error) {
	var (
		e              types.Execution
		success        int
		output         sql.NullString
		started, ended int64
	)
	if err := row.Scan(&e.ID, &e.JobID, &success, &output, &started, &ended); err != nil {
		return types.Execution{}, err
	}
	e.Success = success != 0
	if output.Valid {
		e.Output = &output.String
	}
	e.StartedAt = time.UnixMilli(started).UTC()
	e.EndedAt = time.UnixMilli(ended).UTC()
	return e, nil
}

func (s *SQLite) FindLatestExecution(ctx context.Context, jobID string) (*types.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE job_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, jobID)
	e, err := scanSQLiteExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLite) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]types.Execution, int, error) {
	filter = normalizeFilter(filter)

	where := ""
	var args []any
	if filter.JobID != "" {
		where = ` WHERE job_id = ?`
		args = append(args, filter.JobID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions`+where+` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []types.Execution{}
	for rows.Next() {
		e, err := scanSQLiteExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
