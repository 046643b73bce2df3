package scheduler

import (
	"context"
	"fmt"
	"strings"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

// dispatchOnce delivers every due notification: fetch sent=false rows whose
// due time has passed, send each, then batch-mark the successes in one
// transaction. Send failures stay unsent and are retried on later polls until
// the attempts cutoff moves them to terminal failed.
//
// The guarantee is at-least-once: a crash between a send and the mark-sent
// commit re-sends on restart, so notification bodies must read fine twice.
func (s *Scheduler) dispatchOnce(ctx context.Context, log logx.Logger) error {
	now := s.clock()
	cfg := s.config()

	due, err := s.deps.Notifications.Due(ctx, now, cfg.DispatchBatch)
	if err != nil {
		return fmt.Errorf("load due notifications: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	log.Info("dispatching notifications", logx.Int("count", len(due)))

	var sent []int64
	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.deps.Sender.Send(ctx, n.UserID, renderText(n)); err != nil {
			log.Warn("send failed",
				logx.Int64("id", n.ID),
				logx.Int64("user", n.UserID),
				logx.String("kind", string(n.Kind)),
				logx.Err(err))
			s.noteSendFailure(ctx, log, n.ID, cfg.MaxAttempts)
			continue
		}
		sent = append(sent, n.ID)
	}

	if len(sent) > 0 {
		marked, err := s.deps.Notifications.MarkSentBatch(ctx, sent, now)
		if err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		log.Debug("notifications sent", logx.Int("marked", marked))
	}
	return nil
}

// noteSendFailure bumps the attempts counter and retires the row once it
// exhausts its budget. Recipients who blocked the bot fail every attempt, so
// without the cutoff their rows would be retried forever.
func (s *Scheduler) noteSendFailure(ctx context.Context, log logx.Logger, id int64, maxAttempts int) {
	attempts, err := s.deps.Notifications.RecordAttempt(ctx, id)
	if err != nil {
		log.Warn("record attempt failed", logx.Int64("id", id), logx.Err(err))
		return
	}
	if maxAttempts > 0 && attempts >= maxAttempts {
		if err := s.deps.Notifications.MarkFailed(ctx, id); err != nil {
			log.Warn("mark failed failed", logx.Int64("id", id), logx.Err(err))
			return
		}
		log.Warn("notification gave up", logx.Int64("id", id), logx.Int("attempts", attempts))
	}
}

// renderText formats a notification for Telegram (HTML parse mode): bolded
// title, blank line, body; body-only when there is no title. Producers own
// any markup inside the body.
func renderText(n storage.Notification) string {
	if strings.TrimSpace(n.Title) == "" {
		return n.Body
	}
	return "<b>" + n.Title + "</b>\n\n" + n.Body
}
