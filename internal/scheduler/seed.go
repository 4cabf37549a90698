package scheduler

import (
	"context"
	"fmt"

	"github.com/0xPuncker/job-scheduler/internal/config"
	"github.com/0xPuncker/job-scheduler/pkg/schedule"
	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

// SeedJobs creates every seeded job whose name is not taken yet and returns how
// many were created. Seeds with an invalid schedule abort the whole call.
func (s *Scheduler) SeedJobs(ctx context.Context, seeds []config.JobSeed) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	existing, err := s.store.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, j := range existing {
		names[j.Name] = true
	}

	jobs := make([]types.Job, 0, len(seeds))
	for _, seed := range seeds {
		raw, err := seed.ScheduleJSON()
		if err != nil {
			return 0, err
		}
		stored, err := schedule.ToStorageForm(raw)
		if err != nil {
			return 0, fmt.Errorf("seed %q: %w", seed.Name, err)
		}
		jobs = append(jobs, types.Job{
			Name:     seed.Name,
			Commands: seed.Commands,
			Schedule: stored,
			Enabled:  seed.IsEnabled(),
		})
	}

	created := 0
	for i := range jobs {
		job := &jobs[i]
		if names[job.Name] {
			s.logger.WithField("job_name", job.Name).Debug("Seed job already exists")
			continue
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return created, fmt.Errorf("create seed job %q: %w", job.Name, err)
		}
		names[job.Name] = true
		created++
		s.logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"job_name": job.Name,
			"schedule": job.Schedule,
			"enabled":  job.Enabled,
		}).Info("Job seeded successfully")
	}
	return created, nil
}
