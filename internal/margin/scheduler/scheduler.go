// Package scheduler drives the periodic tick and guarantees that a
// new tick never starts while one is already in progress.
package scheduler

import (
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job.
type Job interface {
	Run() error
	Name() string
}

// Scheduler wraps a cron instance and skips overlapping invocations of
// the same job rather than queueing them.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	running map[string]*int32
}

// New creates a new scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		running: make(map[string]*int32),
	}
}

// Start starts the scheduler's background worker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the scheduler cleanly, waiting for any in-flight job
// invocation to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers a job on the given cron schedule. If an invocation
// fires while the previous invocation of the same job is still
// running, the new invocation is skipped, not queued.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	flag := new(int32)
	s.running[job.Name()] = flag

	_, err := s.cron.AddFunc(schedule, func() {
		s.runGuarded(flag, job)
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

func (s *Scheduler) runGuarded(flag *int32, job Job) {
	if !atomic.CompareAndSwapInt32(flag, 0, 1) {
		s.log.Debug().Str("job", job.Name()).Msg("tick already in progress, skipping")
		return
	}
	defer atomic.StoreInt32(flag, 0)

	s.log.Debug().Str("job", job.Name()).Msg("running job")
	if err := job.Run(); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Msg("job completed")
}

// RunOnce executes job immediately, outside of its schedule, honoring
// the same overlap-skip guard. Intended for tests.
func (s *Scheduler) RunOnce(job Job) {
	flag, ok := s.running[job.Name()]
	if !ok {
		flag = new(int32)
		s.running[job.Name()] = flag
	}
	s.runGuarded(flag, job)
}
