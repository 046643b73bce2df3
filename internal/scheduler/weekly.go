package scheduler

import (
	"context"
	"fmt"
	"time"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

const markerWeeklyDigest = "weekly_digest"

// weeklyDigestOnce enqueues (never sends) a stats digest for every opted-in
// user once per ISO week. Delivery is the dispatch runner's job, which keeps
// this runner decoupled from transient sender failures.
func (s *Scheduler) weeklyDigestOnce(ctx context.Context, log logx.Logger) error {
	now := s.clock()
	cfg := s.config()
	if !WeeklyWindow(now, cfg.WeeklyWeekday, cfg.WeeklyHourUTC, cfg.WindowTolerance) {
		return nil
	}

	year, week := now.ISOWeek()
	key := fmt.Sprintf("%04d-W%02d", year, week)
	if v, ok, err := s.deps.Markers.Marker(ctx, markerWeeklyDigest); err != nil {
		return fmt.Errorf("read marker: %w", err)
	} else if ok && v == key {
		return nil
	}

	ids, err := s.deps.Resources.Recipients(ctx, storage.PrefWeeklyStats)
	if err != nil {
		return fmt.Errorf("load digest recipients: %w", err)
	}

	since := now.Add(-7 * 24 * time.Hour)
	enqueued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		stats, err := s.deps.Resources.WeeklyDigest(ctx, id, since)
		if err != nil {
			log.Warn("digest stats failed", logx.Int64("user", id), logx.Err(err))
			continue
		}
		if _, err := s.deps.Notifications.Enqueue(ctx, id, storage.KindWeeklyStats, "Weekly stats", renderDigest(stats), now); err != nil {
			log.Warn("enqueue digest failed", logx.Int64("user", id), logx.Err(err))
			continue
		}
		enqueued++
	}
	log.Info("weekly digests enqueued", logx.Int("count", enqueued), logx.String("week", key))

	// Marker last: an iteration that fails before this point is retried on
	// the next poll instead of losing the week's digests. A crash between the
	// fan-out and the marker write re-enqueues on restart, which delivery
	// already tolerates.
	if err := s.deps.Markers.PutMarker(ctx, markerWeeklyDigest, key); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

func renderDigest(d storage.DigestStats) string {
	return fmt.Sprintf(
		"Missions completed this week: %d\nPoints earned: %d\nLevel: %d\nCharges left: %d/%d\n\nKeep it up!",
		d.Completed, d.Points, d.Level, d.Charges, storage.MaxCharges,
	)
}
