// Package poller drives the scheduling loop: once per tick it evaluates every
// enabled job against the current minute and launches the due ones.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/0xPuncker/job-scheduler/internal/registry"
	"github.com/0xPuncker/job-scheduler/pkg/schedule"
	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval = 30 * time.Second
	// Ticking slower than once a minute would skip firing minutes.
	MaxInterval = time.Minute
)

type JobSource interface {
	ListEnabledJobs(ctx context.Context) ([]types.Job, error)
}

type Admitter interface {
	TryAcquire(jobID string) (registry.Lease, bool)
}

// Launcher starts an admitted job; it owns the lease from then on.
type Launcher interface {
	Run(ctx context.Context, job types.Job, lease registry.Lease, firedAt time.Time)
}

// TickStats summarizes one tick.
type TickStats struct {
	Time     time.Time `json:"time"`
	Enabled  int       `json:"enabled"`
	Invalid  int       `json:"invalid"`
	Matched  int       `json:"matched"`
	Admitted int       `json:"admitted"`
}

type MetricsPublisher interface {
	PublishTick(ctx context.Context, stats TickStats) error
}

type Poller struct {
	jobs     JobSource
	admitter Admitter
	launcher Launcher
	logger   *logrus.Logger
	interval time.Duration
	location *time.Location
	metrics  MetricsPublisher
	now      func() time.Time

	tickMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(jobs JobSource, admitter Admitter, launcher Launcher, logger *logrus.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval > MaxInterval {
		logger.WithField("interval", interval.String()).Warn("Poll interval above one minute, clamping")
		interval = MaxInterval
	}
	return &Poller{
		jobs:     jobs,
		admitter: admitter,
		launcher: launcher,
		logger:   logger,
		interval: interval,
		location: time.Local,
		now:      time.Now,
	}
}

// SetLocation sets the zone schedules are evaluated in.
func (p *Poller) SetLocation(loc *time.Location) {
	if loc != nil {
		p.location = loc
	}
}

// SetClock replaces the time source used to pick the evaluated minute.
func (p *Poller) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

func (p *Poller) SetMetrics(m MetricsPublisher) {
	p.metrics = m
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start runs an immediate tick and then one per interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop ends ticking and waits for an in-progress tick to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.interval.String()).Info("Poller started")
	p.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			p.Tick(ctx)
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return
		}
	}
}

// Tick evaluates every enabled job once. Ticks never overlap.
func (p *Poller) Tick(ctx context.Context) TickStats {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	now := schedule.TruncateMinute(p.now().In(p.location))
	stats := TickStats{Time: now}

	jobs, err := p.jobs.ListEnabledJobs(ctx)
	if err != nil {
		p.logger.Errorf("Failed to list enabled jobs: %v", err)
		return stats
	}
	stats.Enabled = len(jobs)

	p.logger.Debugf("Evaluating %d enabled jobs at %s", len(jobs), now.Format(time.RFC3339))
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		p.evaluate(ctx, job, now, &stats)
	}

	if p.metrics != nil {
		if err := p.metrics.PublishTick(ctx, stats); err != nil {
			p.logger.Debugf("Failed to publish tick metrics: %v", err)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"enabled":  stats.Enabled,
		"invalid":  stats.Invalid,
		"matched":  stats.Matched,
		"admitted": stats.Admitted,
	}).Debug("Completed poller tick")
	return stats
}

func (p *Poller) evaluate(ctx context.Context, job types.Job, now time.Time, stats *TickStats) {
	spec, err := schedule.FromStorageForm(job.Schedule)
	if err != nil {
		stats.Invalid++
		p.logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"job_name": job.Name,
			"schedule": job.Schedule,
			"error":    err.Error(),
		}).Warn("Skipping job with invalid schedule")
		return
	}
	if !schedule.Matches(spec, now) {
		return
	}
	stats.Matched++

	lease, ok := p.admitter.TryAcquire(job.ID)
	if !ok {
		p.logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"job_name": job.Name,
		}).Debug("Job not admitted: already running or at capacity")
		return
	}
	stats.Admitted++
	p.launcher.Run(ctx, job, lease, now)
}
