// Package scheduler runs poll-all sync passes on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/robfig/cron/v3"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

const (
	DefaultSchedule = "@every 15m"
	DefaultLockTTL  = 30 * time.Minute
	DefaultLockName = "poll-all"
)

type Poller interface {
	SyncAll(ctx context.Context) ([]models.SyncResult, error)
}

// Locker keeps replicas from polling at the same time.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@every 15m"
	Schedule string
	LockTTL  time.Duration
	LockName string
}

// Scheduler triggers SyncAll. Overlap inside the process is skipped by the cron
// chain; overlap across replicas is skipped by the optional lock.
type Scheduler struct {
	poller Poller
	locker Locker
	config Config
	cron   *cron.Cron
	logger ectologger.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler validates the schedule. locker may be nil for single-replica deployments.
func NewScheduler(poller Poller, locker Locker, config Config, logger ectologger.Logger) (*Scheduler, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.LockName == "" {
		config.LockName = DefaultLockName
	}

	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", config.Schedule, err)
	}

	cronLog := cronLogger{logger: logger}
	return &Scheduler{
		poller: poller,
		locker: locker,
		config: config,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		logger: logger,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	// cron jobs outlive the start request
	runCtx := context.WithoutCancel(ctx)
	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		_ = s.RunOnce(runCtx)
	}); err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.WithContext(ctx).Infof("Poll scheduler started with schedule %q", s.config.Schedule)
	return nil
}

// Stop prevents new runs and waits for a running pass until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.WithContext(ctx).Info("Poll scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Poll scheduler shutdown timed out")
		return ctx.Err()
	}
}

// RunOnce runs a single poll-all pass. A pass already held by another replica is
// skipped without error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.RunOnce")
	defer span.End()

	log := s.logger.WithContext(ctx)
	start := time.Now()

	poll := func(ctx context.Context) error {
		results, err := s.poller.SyncAll(ctx)

		synced, failed := 0, 0
		for _, r := range results {
			synced += r.Synced
			failed += r.Errors
		}
		log.WithFields(map[string]any{
			"passes":   len(results),
			"synced":   synced,
			"errors":   failed,
			"duration": time.Since(start).String(),
		}).Info("Poll-all pass finished")
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, s.config.LockName, s.config.LockTTL, poll)
	} else {
		err = poll(ctx)
	}

	switch {
	case errors.Is(err, redis.ErrLockNotAcquired):
		metrics.RecordSchedulerPoll("skipped")
		log.Info("Another replica is polling, skipping this run")
		return nil
	case err != nil:
		metrics.RecordSchedulerPoll("failed")
		log.WithError(err).Warn("Poll-all pass finished with failures")
		return err
	default:
		metrics.RecordSchedulerPoll("success")
		return nil
	}
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	logger ectologger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []any) map[string]any {
	out := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
