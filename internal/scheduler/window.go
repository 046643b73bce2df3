package scheduler

import (
	"time"

	"questbot/internal/storage"
)

// Trigger windows are evaluated in UTC to avoid daylight-saving ambiguity.
// The tolerance exists because runners poll coarsely (every minute or so): a
// task fires when "now" lands anywhere inside [hour:00, hour:00+tolerance).
// Firing at most once per window is the marker store's job, not the window's.

// DailyWindow reports whether now falls inside the daily trigger window at
// the given UTC hour.
func DailyWindow(now time.Time, hour int, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	now = now.UTC()
	if now.Hour() != hour {
		return false
	}
	offset := time.Duration(now.Minute())*time.Minute + time.Duration(now.Second())*time.Second
	return offset < tolerance
}

// WeeklyWindow is DailyWindow gated additionally on the UTC weekday.
func WeeklyWindow(now time.Time, weekday time.Weekday, hour int, tolerance time.Duration) bool {
	now = now.UTC()
	return now.Weekday() == weekday && DailyWindow(now, hour, tolerance)
}

// CampaignActive reports whether the campaign's window contains now
// (inclusive on both ends).
func CampaignActive(c storage.Campaign, now time.Time) bool {
	return c.Active && !now.Before(c.StartAt) && !now.After(c.EndAt)
}
