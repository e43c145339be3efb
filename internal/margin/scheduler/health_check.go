package scheduler

import (
	"time"

	"github.com/rs/zerolog"
)

// IntegrityChecker is satisfied by the history sink.
type IntegrityChecker interface {
	CheckIntegrity() error
	Checkpoint() (walFrames int, err error)
}

// LockClearer is satisfied by the controller, whose writer lock this
// job guards against a crashed holder.
type LockClearer interface {
	ClearStuckLocks(maxAge time.Duration) []string
}

// HealthCheckJob runs a periodic integrity check and WAL checkpoint
// against the history database, and releases the controller's writer
// lock if it has been held implausibly long (a crashed goroutine is
// the only way that happens; this job only resets the bookkeeping
// consulted by the next tick, it never force-unlocks a mutex
// mid-process).
type HealthCheckJob struct {
	log          zerolog.Logger
	history      IntegrityChecker
	locks        LockClearer
	staleLockAge time.Duration
}

// NewHealthCheckJob builds a HealthCheckJob.
func NewHealthCheckJob(log zerolog.Logger, history IntegrityChecker, locks LockClearer, staleLockAge time.Duration) *HealthCheckJob {
	return &HealthCheckJob{
		log:          log.With().Str("job", "health_check").Logger(),
		history:      history,
		locks:        locks,
		staleLockAge: staleLockAge,
	}
}

// Name satisfies the Job interface.
func (j *HealthCheckJob) Name() string { return "health_check" }

// Run executes the health check.
func (j *HealthCheckJob) Run() error {
	if err := j.history.CheckIntegrity(); err != nil {
		j.log.Error().Err(err).Msg("history database integrity check failed")
		return err
	}

	if frames, err := j.history.Checkpoint(); err != nil {
		j.log.Warn().Err(err).Msg("wal checkpoint failed")
	} else {
		j.log.Debug().Int("wal_frames", frames).Msg("wal checkpoint completed")
	}

	cleared := j.locks.ClearStuckLocks(j.staleLockAge)
	if len(cleared) > 0 {
		j.log.Warn().Strs("locks", cleared).Msg("cleared stuck controller locks")
	}

	return nil
}
