package catalogsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is used when NewJob is given a non-positive interval.
const DefaultInterval = 15 * time.Minute

// Runner is anything with a RunOnce, normally a *Syncer.
type Runner interface {
	RunOnce(ctx context.Context) (Summary, error)
}

// Job runs every Runner on a fixed interval until stopped.
type Job struct {
	logger   *zap.Logger
	runners  []Runner
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewJob(logger *zap.Logger, interval time.Duration, runners ...Runner) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Job{
		logger:   logger,
		runners:  runners,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs immediately, then on every tick. It blocks until Stop or ctx is done.
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("catalogsync.job_started", zap.Duration("interval", j.interval), zap.Int("companies", len(j.runners)))
	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopCh:
			j.logger.Info("catalogsync.job_stopped", zap.String("reason", "manual stop"))
			return
		case <-ctx.Done():
			j.logger.Info("catalogsync.job_stopped", zap.String("reason", "context canceled"))
			return
		}
	}
}

// Stop halts Start. Calling it more than once is harmless.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce runs each runner in turn and reports how many failed.
func (j *Job) RunOnce(ctx context.Context) int {
	failed := 0
	for _, r := range j.runners {
		if ctx.Err() != nil {
			return failed
		}
		if _, err := r.RunOnce(ctx); err != nil {
			failed++
		}
	}
	return failed
}
