package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type fullSyncRunner interface {
	RunFullSync(ctx context.Context) (Summary, error)
}

// Scheduler runs a full sync on a fixed interval.
type Scheduler struct {
	runner fullSyncRunner
	logger *logging.Logger

	tick <-chan time.Time
	stop func()
}

// SchedulerConfig configures a Scheduler. Tick overrides the ticker in tests.
type SchedulerConfig struct {
	Runner   fullSyncRunner
	Interval time.Duration
	Logger   *logging.Logger

	Tick <-chan time.Time
	Stop func()
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("pipeline: scheduler requires runner")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.Interval
		if interval <= 0 {
			interval = time.Hour
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	return &Scheduler{
		runner: cfg.Runner,
		logger: cfg.Logger.Component("sync-scheduler"),
		tick:   tick,
		stop:   stop,
	}, nil
}

// Start runs once immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	defer func() {
		if s.stop != nil {
			s.stop()
		}
	}()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.tick:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.runner.RunFullSync(ctx); err != nil {
		if IsRunInProgress(err) {
			s.logger.Info("scheduled sync skipped, run in progress")
			return
		}
		s.logger.Error("scheduled sync failed", "error", err)
	}
}
