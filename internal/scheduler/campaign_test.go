package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

func testCampaign(id int64) *storage.Campaign {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	return &storage.Campaign{
		ID:          id,
		Name:        "Fitness Week",
		Description: "Move every day.",
		Tags:        []string{"sport", "health"},
		StartAt:     start,
		EndAt:       start.AddDate(0, 0, 7),
		Active:      true,
	}
}

func TestCampaignBroadcastOncePerCampaign(t *testing.T) {
	inWindow := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	env := newTestEnv(Config{DailyHourUTC: 0}, inWindow)
	env.campaigns.campaign = testCampaign(7)
	env.resources.recipients[storage.PrefEnabled] = []int64{101, 102, 103}
	ctx := context.Background()

	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("campaignSwitchOnce: %v", err)
	}

	broadcasts := env.queue.byKind(storage.KindCampaignStart)
	if len(broadcasts) != 3 {
		t.Fatalf("broadcasts = %d, want 3", len(broadcasts))
	}
	if broadcasts[0].Title != "Fitness Week" {
		t.Fatalf("title = %q", broadcasts[0].Title)
	}
	if !strings.Contains(broadcasts[0].Body, "Move every day.") ||
		!strings.Contains(broadcasts[0].Body, "sport, health") {
		t.Fatalf("body missing campaign details: %q", broadcasts[0].Body)
	}
	if _, ok := env.markers.get(campaignMarker(7)); !ok {
		t.Fatal("announce marker for campaign 7 not written")
	}

	// Next day's window, same campaign still active: no re-broadcast.
	env.setNow(inWindow.AddDate(0, 0, 1))
	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("second campaignSwitchOnce: %v", err)
	}
	if got := len(env.queue.byKind(storage.KindCampaignStart)); got != 3 {
		t.Fatalf("same campaign broadcast twice: %d", got)
	}
}

func TestCampaignSwitchBroadcastsNewCampaign(t *testing.T) {
	inWindow := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	env := newTestEnv(Config{DailyHourUTC: 0}, inWindow)
	env.campaigns.campaign = testCampaign(7)
	env.resources.recipients[storage.PrefEnabled] = []int64{101}
	ctx := context.Background()

	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("first campaign: %v", err)
	}

	next := testCampaign(8)
	next.Name = "Art Week"
	env.campaigns.campaign = next
	env.setNow(inWindow.AddDate(0, 0, 7))
	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("second campaign: %v", err)
	}

	broadcasts := env.queue.byKind(storage.KindCampaignStart)
	if len(broadcasts) != 2 {
		t.Fatalf("broadcasts = %d, want one per campaign", len(broadcasts))
	}
	if broadcasts[1].Title != "Art Week" {
		t.Fatalf("second broadcast title = %q", broadcasts[1].Title)
	}
	if _, ok := env.markers.get(campaignMarker(8)); !ok {
		t.Fatal("announce marker for campaign 8 not written")
	}
}

// Overlap A then B then back to A: once B ends, the still-active older
// campaign must not be announced a second time.
func TestCampaignOverlapDoesNotReannounce(t *testing.T) {
	inWindow := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	env := newTestEnv(Config{DailyHourUTC: 0}, inWindow)
	env.resources.recipients[storage.PrefEnabled] = []int64{101}
	ctx := context.Background()

	older := testCampaign(1)
	older.EndAt = older.StartAt.AddDate(0, 0, 21)
	env.campaigns.campaign = older
	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("announce older: %v", err)
	}

	newer := testCampaign(2)
	newer.StartAt = inWindow.AddDate(0, 0, 3)
	newer.EndAt = newer.StartAt.AddDate(0, 0, 4)
	env.campaigns.campaign = newer
	env.setNow(inWindow.AddDate(0, 0, 4))
	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("announce newer: %v", err)
	}

	// Newer campaign over, older one active again.
	env.campaigns.campaign = older
	env.setNow(inWindow.AddDate(0, 0, 8))
	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("re-entry: %v", err)
	}

	if got := len(env.queue.byKind(storage.KindCampaignStart)); got != 2 {
		t.Fatalf("broadcasts = %d, want one per campaign id", got)
	}
}

// A transient recipients failure inside the window must not burn the
// campaign's announce; the next poll retries and broadcasts.
func TestCampaignTransientFailureRetries(t *testing.T) {
	inWindow := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	env := newTestEnv(Config{DailyHourUTC: 0}, inWindow)
	env.campaigns.campaign = testCampaign(7)
	env.resources.recipients[storage.PrefEnabled] = []int64{101, 102}
	env.resources.recipientsErr = errors.New("settings table locked")
	ctx := context.Background()

	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err == nil {
		t.Fatal("expected error from failing recipients load")
	}
	if _, ok := env.markers.get(campaignMarker(7)); ok {
		t.Fatal("marker written before the fan-out completed")
	}

	env.resources.recipientsErr = nil
	env.setNow(inWindow.Add(time.Minute))
	if err := env.sched.campaignSwitchOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := len(env.queue.byKind(storage.KindCampaignStart)); got != 2 {
		t.Fatalf("broadcasts after retry = %d, want 2", got)
	}
}

func TestCampaignNoActiveIsNoop(t *testing.T) {
	env := newTestEnv(Config{DailyHourUTC: 0}, time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC))
	env.resources.recipients[storage.PrefEnabled] = []int64{101}

	if err := env.sched.campaignSwitchOnce(context.Background(), logx.Nop()); err != nil {
		t.Fatalf("campaignSwitchOnce: %v", err)
	}
	if env.queue.count() != 0 {
		t.Fatal("broadcast without an active campaign")
	}
	if env.markers.size() != 0 {
		t.Fatal("marker written without an active campaign")
	}
}

func TestCampaignDefaultBodyFallbacks(t *testing.T) {
	c := testCampaign(1)
	c.Description = "  "
	c.Tags = nil
	body := renderCampaign(*c)
	if !strings.Contains(body, "Complete missions on this week's theme!") {
		t.Fatalf("missing description fallback: %q", body)
	}
	if !strings.Contains(body, "Tags: misc") {
		t.Fatalf("missing tags fallback: %q", body)
	}
}
