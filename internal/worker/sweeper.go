package worker

import (
	"context"
	"time"

	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// ExpireFunc expires whatever ran out before now and reports how many rows it touched
type ExpireFunc func(ctx context.Context, now time.Time) (int, error)

// Locker is a cluster-wide mutex so one instance sweeps at a time
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

const sweepLockKey = "sweeper"

type sweepTask struct {
	target string
	expire ExpireFunc
}

// Sweeper periodically expires stale holds and orders, then resyncs the stock cache
type Sweeper struct {
	interval time.Duration
	tasks    []sweepTask
	resync   func(ctx context.Context) error
	locker   Locker
	now      func() time.Time
	logger   *zap.Logger
}

// NewSweeper creates a sweeper that runs every interval
func NewSweeper(interval time.Duration) *Sweeper {
	return &Sweeper{interval: interval, now: time.Now, logger: util.GetLogger()}
}

// Add registers an expiry task. target labels it in logs and metrics.
func (s *Sweeper) Add(target string, expire ExpireFunc) {
	s.tasks = append(s.tasks, sweepTask{target: target, expire: expire})
}

// OnResync sets the cache resync run after the tasks
func (s *Sweeper) OnResync(resync func(ctx context.Context) error) {
	s.resync = resync
}

// WithLock makes the sweeper skip a run while another instance holds the lock
func (s *Sweeper) WithLock(locker Locker) {
	s.locker = locker
}

// RunOnce runs every task once. A failing task does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			s.logger.Warn("Failed to acquire sweep lock", zap.Error(err))
			return
		}
		if !ok {
			s.logger.Debug("Another instance is sweeping")
			return
		}
		defer func() {
			if err := s.locker.ReleaseLock(ctx, sweepLockKey); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	now := s.now()
	for _, t := range s.tasks {
		n, err := t.expire(ctx, now)
		if err != nil {
			s.logger.Error("Sweep task failed", zap.String("target", t.target), zap.Error(err))
		}
		if n > 0 {
			util.SweepExpiredTotal.WithLabelValues(t.target).Add(float64(n))
			s.logger.Info("Expired stale rows", zap.String("target", t.target), zap.Int("count", n))
		}
	}

	if s.resync != nil {
		if err := s.resync(ctx); err != nil {
			s.logger.Warn("Stock cache resync failed", zap.Error(err))
		}
	}
}

// Start runs the sweep every interval until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
