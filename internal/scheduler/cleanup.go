package scheduler

import (
	"context"
	"errors"
	"fmt"

	"questbot/pkg/logx"
)

// Markers older than this are for tasks that no longer exist.
const markerRetentionDays = 60

// cleanupOnce is the slow-cadence maintenance pass: expired pairing records,
// delivered/retired notifications past retention, stale task markers. Each
// step is attempted even when an earlier one fails.
func (s *Scheduler) cleanupOnce(ctx context.Context, log logx.Logger) error {
	now := s.clock()
	cfg := s.config()

	var errs []error

	if n, err := s.deps.Cleanup.DeleteExpiredPairRequests(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("expired pair requests: %w", err))
	} else if n > 0 {
		log.Info("expired pair requests removed", logx.Int64("count", n))
	}

	if n, err := s.deps.Cleanup.DeleteExpiredPairs(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("expired pairs: %w", err))
	} else if n > 0 {
		log.Info("expired pairs removed", logx.Int64("count", n))
	}

	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
	if n, err := s.deps.Cleanup.PurgeNotifications(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("notification retention: %w", err))
	} else if n > 0 {
		log.Info("old notifications purged", logx.Int64("count", n))
	}

	if n, err := s.deps.Markers.PruneMarkers(ctx, now.AddDate(0, 0, -markerRetentionDays)); err != nil {
		errs = append(errs, fmt.Errorf("stale markers: %w", err))
	} else if n > 0 {
		log.Debug("stale markers pruned", logx.Int64("count", n))
	}

	return errors.Join(errs...)
}
