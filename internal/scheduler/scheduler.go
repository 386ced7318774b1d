// Package scheduler runs wall-clock jobs alongside a training run.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func() error
}

func (j JobFunc) Run() error   { return j.Fn() }
func (j JobFunc) Name() string { return j.JobName }

// Scheduler wraps a cron runner with logging.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New creates a stopped scheduler. Schedules use the standard five-field
// cron syntax plus descriptors such as "@every 30m".
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// AddJob registers job under schedule.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.RunNow(job) })
	if err != nil {
		return err
	}
	s.logger.Info("job registered", zap.String("schedule", schedule), zap.String("job", job.Name()))
	return nil
}

// RunNow executes job immediately, logging any failure.
func (s *Scheduler) RunNow(job Job) error {
	s.logger.Debug("running job", zap.String("job", job.Name()))
	if err := job.Run(); err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
		return err
	}
	return nil
}
