package scheduler

import (
	"context"
	"fmt"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

const (
	markerDailyReset = "daily_reset"
	dayKeyFormat     = "2006-01-02"
)

// dailyResetOnce restores every user's charges once per UTC day and fans out
// opt-in reminders. Two guards make it restart-safe: the persisted day marker
// gates the whole task, and the reset itself only touches rows whose last
// reset predates the current day, so even a marker race cannot clobber a
// same-day spend. The marker is written last: a failed iteration stays
// retryable on the next poll, and a retried reset is a per-row no-op.
func (s *Scheduler) dailyResetOnce(ctx context.Context, log logx.Logger) error {
	now := s.clock()
	cfg := s.config()
	if !DailyWindow(now, cfg.DailyHourUTC, cfg.WindowTolerance) {
		return nil
	}

	key := now.Format(dayKeyFormat)
	if v, ok, err := s.deps.Markers.Marker(ctx, markerDailyReset); err != nil {
		return fmt.Errorf("read marker: %w", err)
	} else if ok && v == key {
		return nil
	}

	affected, err := s.deps.Resources.ResetCharges(ctx, now, storage.MaxCharges)
	if err != nil {
		return fmt.Errorf("reset charges: %w", err)
	}
	log.Info("daily charges reset", logx.Int64("affected", affected))

	// Per-user enqueue failures are logged and skipped so one bad row cannot
	// block the rest.
	ids, err := s.deps.Resources.Recipients(ctx, storage.PrefDailyReminders)
	if err != nil {
		return fmt.Errorf("load reminder recipients: %w", err)
	}
	body := fmt.Sprintf("Your charges are back: %d/%d for today. Grab a mission with /mission!",
		storage.MaxCharges, storage.MaxCharges)
	enqueued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.deps.Notifications.Enqueue(ctx, id, storage.KindDailyReminder, "Mission reminder", body, now); err != nil {
			log.Warn("enqueue reminder failed", logx.Int64("user", id), logx.Err(err))
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		log.Info("daily reminders enqueued", logx.Int("count", enqueued))
	}
	if err := s.deps.Markers.PutMarker(ctx, markerDailyReset, key); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}
