package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledger-auditor/internal/models"
	"ledger-auditor/internal/services"

	"github.com/rs/zerolog"
)

type Runner interface {
	Run(ctx context.Context, job services.Job) (*models.RunSummary, error)
	ListRuns(ctx context.Context, jobName string, limit, offset int) ([]*models.MonitoringRun, error)
}

// Scheduler fires every job once per interval. A failed run is logged and the
// job waits for its next turn.
type Scheduler struct {
	runner Runner
	jobs   []services.Job
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
}

func New(runner Runner, jobs []services.Job, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		jobs:    jobs,
		logger:  logger,
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

func (s *Scheduler) Jobs() []services.Job {
	return s.jobs
}

// Start launches one loop per job and returns immediately. Loops and triggered
// runs stop when ctx is cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn().Str("job", job.Name).Msg("Job has no interval, not scheduled")
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job services.Job) {
	defer s.wg.Done()

	wait := s.firstDelay(ctx, job)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	s.logger.Info().
		Str("job", job.Name).
		Dur("interval", job.Interval).
		Dur("first_run_in", wait).
		Msg("Job scheduled")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("job", job.Name).Msg("Job loop stopped")
			return
		case <-timer.C:
			s.execute(ctx, job)
			timer.Reset(job.Interval)
		}
	}
}

// firstDelay is the time left until the job is due, measured from its latest
// recorded run so restarts do not push the schedule back. A job with no run
// history, or whose history cannot be read, is due immediately.
func (s *Scheduler) firstDelay(ctx context.Context, job services.Job) time.Duration {
	runs, err := s.runner.ListRuns(ctx, job.Name, 1, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to read last run, running now")
		return 0
	}
	if len(runs) == 0 {
		return 0
	}
	remaining := runs[0].StartedAt.Add(job.Interval).Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *Scheduler) execute(ctx context.Context, job services.Job) {
	summary, err := s.runner.Run(ctx, job)
	switch {
	case errors.Is(err, models.ErrRunInProgress):
		s.logger.Warn().Str("job", job.Name).Msg("Previous run still in progress, skipping")
	case err != nil:
		s.logger.Error().Err(err).Str("job", job.Name).Msg("Scheduled run failed")
	default:
		s.logger.Info().
			Str("job", job.Name).
			Int64("run_id", summary.RunID).
			Int("discrepancies", summary.DiscrepanciesFound).
			Msg("Scheduled run completed")
	}
}

// RunOnce executes the named job synchronously.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (*models.RunSummary, error) {
	job, err := services.FindJob(s.jobs, name)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, job)
}

// Trigger starts the named job in the background under the scheduler's
// context, so shutdown cancels it like a scheduled run.
func (s *Scheduler) Trigger(name string) error {
	job, err := services.FindJob(s.jobs, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, job)
	}()
	return nil
}
