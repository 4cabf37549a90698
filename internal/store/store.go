// Package store persists jobs and their execution history.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/0xPuncker/job-scheduler/pkg/types"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence API used by the scheduler and the HTTP API.
type Store interface {
	ListEnabledJobs(ctx context.Context) ([]types.Job, error)
	// FindLatestExecution returns (nil, nil) when the job has never run.
	FindLatestExecution(ctx context.Context, jobID string) (*types.Execution, error)
	AppendExecution(ctx context.Context, jobID string, success bool, output *string, startedAt, endedAt time.Time) (*types.Execution, error)

	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context) ([]types.Job, error)
	UpdateJob(ctx context.Context, job *types.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]types.Execution, int, error)

	Ping(ctx context.Context) error
	Close() error
}

// ExecutionFilter narrows ListExecutions. Results are newest first.
type ExecutionFilter struct {
	JobID  string
	Limit  int
	Offset int
}

// Config selects a backend.
//
// Driver values:
//   - "memory": in-process maps, lost on restart
//   - "sqlite": DSN is a database file path
//   - "postgres": DSN is a libpq style URL or key/value string
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration
}

// Open initializes the configured store. An empty driver means memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg.DSN, cfg.BusyTimeout)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}

func prepareNewJob(job *types.Job, now time.Time) error {
	if err := checkJob(job); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = newID()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func checkJob(job *types.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(job.Name) == "" {
		return errors.New("job name is required")
	}
	return nil
}

func normalizeFilter(f ExecutionFilter) ExecutionFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
