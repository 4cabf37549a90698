package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/job-scheduler/pkg/types"
)

// Memory is a process-local Store used by default and in tests.
type Memory struct {
	mu         sync.RWMutex
	jobs       map[string]types.Job
	executions []types.Execution
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]types.Job),
		now:  time.Now,
	}
}

func cloneJob(j types.Job) types.Job {
	j.Commands = slices.Clone(j.Commands)
	return j
}

func sortJobs(jobs []types.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}

func (m *Memory) ListEnabledJobs(ctx context.Context) ([]types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]types.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Enabled {
			jobs = append(jobs, cloneJob(j))
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

func (m *Memory) ListJobs(ctx context.Context) ([]types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]types.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, cloneJob(j))
	}
	sortJobs(jobs)
	return jobs, nil
}

func (m *Memory) CreateJob(ctx context.Context, job *types.Job) error {
	if err := prepareNewJob(job, m.now().UTC()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j = cloneJob(j)
	return &j, nil
}

func (m *Memory) UpdateJob(ctx context.Context, job *types.Job) error {
	if err := checkJob(job); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = m.now().UTC()
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (m *Memory) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) AppendExecution(ctx context.Context, jobID string, success bool, output *string, startedAt, endedAt time.Time) (*types.Execution, error) {
	e := types.Execution{
		ID:        newID(),
		JobID:     jobID,
		Success:   success,
		StartedAt: startedAt.UTC(),
		EndedAt:   endedAt.UTC(),
	}
	if output != nil {
		s := *output
		e.Output = &s
	}

	m.mu.Lock()
	m.executions = append(m.executions, e)
	m.mu.Unlock()
	return &e, nil
}

func (m *Memory) FindLatestExecution(ctx context.Context, jobID string) (*types.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *types.Execution
	for i := range m.executions {
		e := &m.executions[i]
		if e.JobID != jobID {
			continue
		}
		if latest == nil || !e.StartedAt.Before(latest.StartedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (m *Memory) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]types.Execution, int, error) {
	filter = normalizeFilter(filter)

	m.mu.RLock()
	matched := make([]types.Execution, 0, len(m.executions))
	for _, e := range m.executions {
		if filter.JobID == "" || e.JobID == filter.JobID {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	// newest first, insertion order breaks ties
	sort.SliceStable(matched, func(i, k int) bool {
		return matched[i].StartedAt.After(matched[k].StartedAt)
	})
	total := len(matched)
	if filter.Offset >= total {
		return []types.Execution{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	return nil
}
