// Package runner launches job commands as child processes and records their
// outcome as executions.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xPuncker/job-scheduler/internal/registry"
	"github.com/0xPuncker/job-scheduler/pkg/schedule"
	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/0xPuncker/job-scheduler/pkg/utils"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxOutputBytes = 64 * 1024

	fireMarkerTTL = 2 * time.Minute
	recordTimeout = 10 * time.Second
	waitDelay     = 500 * time.Millisecond
)

// ExecutionStore is the slice of the job store the runner needs.
type ExecutionStore interface {
	FindLatestExecution(ctx context.Context, jobID string) (*types.Execution, error)
	AppendExecution(ctx context.Context, jobID string, success bool, output *string, startedAt, endedAt time.Time) (*types.Execution, error)
}

// Attacher binds a live process to an admitted lease.
type Attacher interface {
	Attach(l registry.Lease, h registry.Handle) bool
}

// Notifier is told about every recorded execution.
type Notifier interface {
	NotifyExecution(ctx context.Context, job types.Job, exec types.Execution) error
}

// Completion is emitted once per Run call, after the execution (if any) was recorded.
type Completion struct {
	Lease     registry.Lease
	Execution *types.Execution
	Skipped   bool
	Stopped   bool
}

type Config struct {
	Shell          string
	Timeout        time.Duration
	MaxOutputBytes int
}

type Runner struct {
	store       ExecutionStore
	attacher    Attacher
	completions chan<- Completion
	notifier    Notifier
	logger      *logrus.Logger
	cfg         Config
	fired       *cache.Cache
	wg          sync.WaitGroup
}

func New(st ExecutionStore, attacher Attacher, completions chan<- Completion, logger *logrus.Logger, cfg Config) *Runner {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Runner{
		store:       st,
		attacher:    attacher,
		completions: completions,
		logger:      logger,
		cfg:         cfg,
		fired:       cache.New(fireMarkerTTL, 2*fireMarkerTTL),
	}
}

// SetNotifier registers n to receive recorded executions. Call before the first Run.
func (r *Runner) SetNotifier(n Notifier) {
	r.notifier = n
}

// Run executes a scheduled fire of job at firedAt in the background. A fire
// already handled in the same minute is skipped. Exactly one Completion is sent
// for the lease.
func (r *Runner) Run(ctx context.Context, job types.Job, lease registry.Lease, firedAt time.Time) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.alreadyFired(ctx, job, firedAt) {
			r.complete(Completion{Lease: lease, Skipped: true})
			return
		}
		r.complete(r.execute(ctx, job, lease))
	}()
}

// RunNow executes job immediately, bypassing duplicate-fire suppression.
func (r *Runner) RunNow(ctx context.Context, job types.Job, lease registry.Lease) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.complete(r.execute(ctx, job, lease))
	}()
}

// Wait blocks until every started run has sent its completion.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) complete(c Completion) {
	r.completions <- c
}

func fireKey(jobID string, firedAt time.Time) string {
	return fmt.Sprintf("%s@%d", jobID, schedule.TruncateMinute(firedAt).Unix())
}

func (r *Runner) alreadyFired(ctx context.Context, job types.Job, firedAt time.Time) bool {
	if err := r.fired.Add(fireKey(job.ID, firedAt), struct{}{}, cache.DefaultExpiration); err != nil {
		r.logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"job_name": job.Name,
		}).Debug("Job already fired this minute, skipping")
		return true
	}

	latest, err := r.store.FindLatestExecution(ctx, job.ID)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"job_id": job.ID,
			"error":  err.Error(),
		}).Warn("Failed to look up latest execution")
		return false
	}
	if latest != nil && schedule.SameMinute(firedAt, latest.StartedAt) {
		r.logger.WithFields(logrus.Fields{
			"job_id":       job.ID,
			"job_name":     job.Name,
			"execution_id": latest.ID,
		}).Debug("Job already executed this minute, skipping")
		return true
	}
	return false
}

// process is the registry handle for one running command.
type process struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
}

func (p *process) Terminate() error {
	p.stopped.Store(true)
	p.cancel()
	return nil
}

func (r *Runner) execute(ctx context.Context, job types.Job, lease registry.Lease) Completion {
	// Runs outlive the caller's context; they end through Terminate or the timeout.
	base := context.WithoutCancel(ctx)
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if r.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(base, r.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	defer cancel()

	proc := &process{cancel: cancel}
	out := &limitedBuffer{max: r.cfg.MaxOutputBytes}

	cmd := shellCommand(runCtx, r.cfg.Shell, job.Script())
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	log := r.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_name": job.Name,
	})

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		msg := fmt.Sprintf("failed to start job: %v", err)
		log.WithField("error", err.Error()).Error("Job launch failed")
		execution := r.record(job, false, &msg, startedAt, time.Now())
		return Completion{Lease: lease, Execution: execution}
	}

	if !r.attacher.Attach(lease, proc) {
		// stopped between admission and start
		_ = proc.Terminate()
	}
	log.Info("Starting job execution")

	waitErr := cmd.Wait()
	endedAt := time.Now()

	stopped := proc.stopped.Load()
	success := waitErr == nil
	output := out.text()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !stopped {
		success = false
		output = appendNote(output, fmt.Sprintf("job timed out after %s", r.cfg.Timeout))
	}

	fields := logrus.Fields{
		"duration":  utils.FormatDuration(endedAt.Sub(startedAt)),
		"exit_code": exitCode(waitErr),
		"stopped":   stopped,
	}
	if success {
		log.WithFields(fields).Info("Job execution completed successfully")
	} else {
		log.WithFields(fields).Warn("Job execution failed")
	}

	execution := r.record(job, success, output, startedAt, endedAt)
	return Completion{Lease: lease, Execution: execution, Stopped: stopped}
}

func (r *Runner) record(job types.Job, success bool, output *string, startedAt, endedAt time.Time) *types.Execution {
	// The run's own context may already be cancelled by Stop or shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	execution, err := r.store.AppendExecution(ctx, job.ID, success, output, startedAt, endedAt)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"job_id": job.ID,
			"error":  err.Error(),
		}).Error("Failed to record execution")
		return nil
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyExecution(ctx, job, *execution); err != nil {
			r.logger.WithFields(logrus.Fields{
				"job_id": job.ID,
				"error":  err.Error(),
			}).Warn("Failed to send execution notification")
		}
	}
	return execution
}

func appendNote(output *string, note string) *string {
	if output == nil {
		return &note
	}
	s := *output + "\n" + note
	return &s
}
