package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"questbot/pkg/logx"
)

// loop wraps one task's unit of work in the shared runner skeleton: run, log
// any error at the iteration boundary, sleep the (live-reloadable) interval,
// repeat. Iteration errors never escape the loop; only cancellation ends it,
// and panics are the supervisor's problem.
func (s *Scheduler) loop(name string, interval func() time.Duration, work func(ctx context.Context, log logx.Logger) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for {
			runLog := s.log.With(
				logx.String("task", name),
				logx.String("run", uuid.NewString()[:8]),
			)
			if err := work(ctx, runLog); err != nil && !errors.Is(err, context.Canceled) {
				runLog.Error("iteration failed", logx.Err(err))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval()):
			}
		}
	}
}

// runCleanup adapts the cron callback to the same logging/isolation shape as
// the poll loops.
func (s *Scheduler) runCleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log := s.log.With(
		logx.String("task", "cleanup"),
		logx.String("run", uuid.NewString()[:8]),
	)
	if err := s.cleanupOnce(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("iteration failed", logx.Err(err))
	}
}
