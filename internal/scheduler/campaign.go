package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

const markerCampaignPrefix = "campaign_broadcast"

// campaignMarker names the per-campaign announce guard. Keying by id means an
// older campaign that becomes active again after an overlapping one ends is
// not re-announced.
func campaignMarker(id int64) string {
	return markerCampaignPrefix + "." + strconv.FormatInt(id, 10)
}

// campaignSwitchOnce announces the currently-active theme week, once per
// campaign. Each campaign id has its own persisted marker, written after the
// fan-out so a failed iteration is retried on the next poll; re-entering the
// window (or restarting mid-week) never duplicates the broadcast, while a
// newly-started campaign fires on its first checked window. No active
// campaign is a no-op, not an error.
func (s *Scheduler) campaignSwitchOnce(ctx context.Context, log logx.Logger) error {
	now := s.clock()
	cfg := s.config()
	if !DailyWindow(now, cfg.DailyHourUTC, cfg.WindowTolerance) {
		return nil
	}

	c, err := s.deps.Campaigns.ActiveCampaign(ctx, now)
	if err != nil {
		return fmt.Errorf("find active campaign: %w", err)
	}
	if c == nil {
		log.Debug("no active campaign")
		return nil
	}

	marker := campaignMarker(c.ID)
	if _, ok, err := s.deps.Markers.Marker(ctx, marker); err != nil {
		return fmt.Errorf("read marker: %w", err)
	} else if ok {
		return nil
	}

	ids, err := s.deps.Resources.Recipients(ctx, storage.PrefEnabled)
	if err != nil {
		return fmt.Errorf("load broadcast recipients: %w", err)
	}

	body := renderCampaign(*c)
	enqueued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.deps.Notifications.Enqueue(ctx, id, storage.KindCampaignStart, c.Name, body, now); err != nil {
			log.Warn("enqueue campaign broadcast failed", logx.Int64("user", id), logx.Err(err))
			continue
		}
		enqueued++
	}
	log.Info("campaign broadcast enqueued",
		logx.Int64("campaign", c.ID),
		logx.String("name", c.Name),
		logx.Int("count", enqueued))

	if err := s.deps.Markers.PutMarker(ctx, marker, now.Format(dayKeyFormat)); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

func renderCampaign(c storage.Campaign) string {
	desc := c.Description
	if strings.TrimSpace(desc) == "" {
		desc = "Complete missions on this week's theme!"
	}
	tags := "misc"
	if len(c.Tags) > 0 {
		tags = strings.Join(c.Tags, ", ")
	}
	return fmt.Sprintf("New theme week!\n\n%s\n\nTags: %s\nBonus points for on-theme missions.", desc, tags)
}
