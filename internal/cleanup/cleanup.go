// Package cleanup runs periodic housekeeping: expired auth tokens and idle
// in-process conversation state.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type IdleEvictor interface {
	EvictIdle(maxIdle time.Duration) int
}

const jobTimeout = time.Minute

// Scheduler owns the cron instance running the housekeeping jobs.
type Scheduler struct {
	cron     *cron.Cron
	tokens   TokenPurger
	states   IdleEvictor
	stateTTL time.Duration
	logger   *zap.Logger
}

// New registers the housekeeping job on schedule, a standard cron expression or
// a descriptor such as "@every 10m". Either collaborator may be nil.
func New(schedule string, tokens TokenPurger, states IdleEvictor, stateTTL time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		tokens:   tokens,
		states:   states,
		stateTTL: stateTTL,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce performs one housekeeping pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.tokens != nil {
		n, err := s.tokens.PurgeExpired(ctx)
		if err != nil {
			s.logger.Warn("purge expired tokens", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("purged expired tokens", zap.Int64("count", n))
		}
	}
	if s.states != nil && s.stateTTL > 0 {
		if n := s.states.EvictIdle(s.stateTTL); n > 0 {
			s.logger.Info("evicted idle conversations", zap.Int("count", n))
		}
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
