// Package scheduler wires the registry, runner and poller together and is the
// single entry point the API uses to control job execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/job-scheduler/internal/poller"
	"github.com/0xPuncker/job-scheduler/internal/registry"
	"github.com/0xPuncker/job-scheduler/internal/runner"
	"github.com/0xPuncker/job-scheduler/internal/store"
	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyRunning   = errors.New("job is already running")
	ErrConcurrencyLimit = errors.New("concurrency limit reached")
	ErrStopped          = errors.New("scheduler is stopped")
)

type Config struct {
	PollInterval   time.Duration
	MaxConcurrent  int
	JobTimeout     time.Duration
	MaxOutputBytes int
	Shell          string
	Location       *time.Location
	Now            func() time.Time
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running       bool              `json:"running"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	PollInterval  string            `json:"poll_interval"`
	MaxConcurrent int               `json:"max_concurrent"`
	InFlight      int               `json:"in_flight"`
	RunningJobs   []string          `json:"running_jobs"`
	LastTick      *poller.TickStats `json:"last_tick,omitempty"`
}

type Scheduler struct {
	store       store.Store
	registry    *registry.Registry
	runner      *runner.Runner
	poller      *poller.Poller
	completions chan runner.Completion
	bookkeeping chan struct{}
	logger      *logrus.Logger
	metrics     poller.MetricsPublisher

	mu        sync.RWMutex
	started   bool
	stopped   bool
	startedAt time.Time

	tickMu   sync.Mutex
	lastTick *poller.TickStats
}

func New(st store.Store, logger *logrus.Logger, cfg Config) *Scheduler {
	s := &Scheduler{
		store:       st,
		registry:    registry.New(cfg.MaxConcurrent),
		completions: make(chan runner.Completion),
		bookkeeping: make(chan struct{}),
		logger:      logger,
	}
	s.runner = runner.New(st, s.registry, s.completions, logger, runner.Config{
		Shell:          cfg.Shell,
		Timeout:        cfg.JobTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
	})
	s.poller = poller.New(st, s.registry, s.runner, logger, cfg.PollInterval)
	s.poller.SetLocation(cfg.Location)
	s.poller.SetClock(cfg.Now)
	s.poller.SetMetrics(tickRecorder{s})

	go s.release()
	return s
}

// SetNotifier forwards every recorded execution to n. Call before Start.
func (s *Scheduler) SetNotifier(n runner.Notifier) {
	s.runner.SetNotifier(n)
}

// SetMetrics publishes tick summaries to m. Call before Start.
func (s *Scheduler) SetMetrics(m poller.MetricsPublisher) {
	s.metrics = m
}

// release is the only consumer of completion events; it frees registry slots
// independently of the tick goroutine.
func (s *Scheduler) release() {
	defer close(s.bookkeeping)
	for c := range s.completions {
		released := s.registry.Release(c.Lease)
		fields := logrus.Fields{
			"job_id":      c.Lease.JobID,
			"released":    released,
			"active_jobs": s.registry.InFlight(),
		}
		if c.Execution != nil {
			fields["execution_id"] = c.Execution.ID
			fields["success"] = c.Execution.Success
		}
		if c.Skipped {
			fields["skipped"] = true
		}
		s.logger.WithFields(fields).Debug("Job slot released")
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.poller.Start(ctx)
	s.started = true
	s.startedAt = time.Now()
	s.logger.WithFields(logrus.Fields{
		"poll_interval":  s.poller.Interval().String(),
		"max_concurrent": s.registry.Limit(),
	}).Info("Scheduler started...")
	return nil
}

// Stop halts ticking, terminates running jobs and waits for their executions
// to be recorded. A stopped scheduler cannot be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.started = false
	s.mu.Unlock()

	s.poller.Stop()
	if n := s.registry.StopAll(); n > 0 {
		s.logger.WithField("jobs", n).Info("Terminated running jobs")
	}
	s.runner.Wait()
	close(s.completions)
	<-s.bookkeeping
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Tick runs one evaluation pass immediately, outside the ticker.
func (s *Scheduler) Tick(ctx context.Context) (poller.TickStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return poller.TickStats{}, ErrStopped
	}
	return s.poller.Tick(ctx), nil
}

// RunNow executes job right away regardless of its schedule, subject to the
// same admission rules as scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, job types.Job) error {
	// Held across the launch so Stop cannot close completions underneath it.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}

	lease, ok := s.registry.TryAcquire(job.ID)
	if !ok {
		if s.registry.IsRunning(job.ID) {
			return ErrAlreadyRunning
		}
		return ErrConcurrencyLimit
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"job_name":    job.Name,
		"active_jobs": s.registry.InFlight(),
	}).Info("Manual job run requested")
	s.runner.RunNow(ctx, job, lease)
	return nil
}

// StopJob terminates the running process of jobID. It reports whether the job was running.
func (s *Scheduler) StopJob(jobID string) bool {
	stopped := s.registry.Stop(jobID)
	if stopped {
		s.logger.WithField("job_id", jobID).Info("Job stopped")
	}
	return stopped
}

func (s *Scheduler) IsJobRunning(jobID string) bool {
	return s.registry.IsRunning(jobID)
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:       s.started,
		PollInterval:  s.poller.Interval().String(),
		MaxConcurrent: s.registry.Limit(),
		InFlight:      s.registry.InFlight(),
		RunningJobs:   s.registry.Running(),
	}
	if s.started {
		at := s.startedAt
		st.StartedAt = &at
	}

	s.tickMu.Lock()
	if s.lastTick != nil {
		last := *s.lastTick
		st.LastTick = &last
	}
	s.tickMu.Unlock()
	return st
}

// tickRecorder keeps the latest tick for Status and forwards it to the
// configured metrics publisher.
type tickRecorder struct {
	s *Scheduler
}

func (r tickRecorder) PublishTick(ctx context.Context, stats poller.TickStats) error {
	r.s.tickMu.Lock()
	r.s.lastTick = &stats
	r.s.tickMu.Unlock()

	if r.s.metrics == nil {
		return nil
	}
	return r.s.metrics.PublishTick(ctx, stats)
}
