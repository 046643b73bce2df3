package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

func TestDailyResetFiresOncePerDay(t *testing.T) {
	inWindow := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	env := newTestEnv(Config{DailyHourUTC: 0}, inWindow)
	env.resources.recipients[storage.PrefDailyReminders] = []int64{101, 102}
	ctx := context.Background()

	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("dailyResetOnce: %v", err)
	}
	if env.resources.resets() != 1 {
		t.Fatalf("resets = %d, want 1", env.resources.resets())
	}
	if v, ok := env.markers.get(markerDailyReset); !ok || v != "2025-03-10" {
		t.Fatalf("marker = %q (%v), want day key", v, ok)
	}
	if got := len(env.queue.byKind(storage.KindDailyReminder)); got != 2 {
		t.Fatalf("reminders enqueued = %d, want 2", got)
	}

	// Same window again: the marker gates the whole task.
	env.setNow(inWindow.Add(time.Minute))
	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("second dailyResetOnce: %v", err)
	}
	if env.resources.resets() != 1 {
		t.Fatal("reset ran twice inside one window")
	}
	if got := len(env.queue.byKind(storage.KindDailyReminder)); got != 2 {
		t.Fatalf("duplicate reminders enqueued: %d", got)
	}
}

func TestDailyResetOutsideWindowIsNoop(t *testing.T) {
	env := newTestEnv(Config{DailyHourUTC: 0}, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC))
	if err := env.sched.dailyResetOnce(context.Background(), logx.Nop()); err != nil {
		t.Fatalf("dailyResetOnce: %v", err)
	}
	if env.resources.resets() != 0 {
		t.Fatal("reset ran outside the trigger window")
	}
	if env.queue.count() != 0 {
		t.Fatal("reminders enqueued outside the trigger window")
	}
}

func TestDailyResetNextDayFiresAgain(t *testing.T) {
	day1 := time.Date(2025, 3, 10, 0, 0, 30, 0, time.UTC)
	env := newTestEnv(Config{DailyHourUTC: 0}, day1)
	ctx := context.Background()

	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	env.setNow(day1.AddDate(0, 0, 1))
	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("day 2: %v", err)
	}
	if env.resources.resets() != 2 {
		t.Fatalf("resets = %d, want one per day", env.resources.resets())
	}
	if v, _ := env.markers.get(markerDailyReset); v != "2025-03-11" {
		t.Fatalf("marker = %q, want advanced day key", v)
	}
}

func TestDailyResetStoreErrorKeepsMarkerUnset(t *testing.T) {
	env := newTestEnv(Config{DailyHourUTC: 0}, time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC))
	env.resources.resetErr = errors.New("database is locked")
	ctx := context.Background()

	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err == nil {
		t.Fatal("expected error from failing reset")
	}
	if _, ok := env.markers.get(markerDailyReset); ok {
		t.Fatal("marker written despite reset failure; next poll could not retry")
	}

	// Store recovers; still inside the window, the retry succeeds.
	env.resources.resetErr = nil
	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if env.resources.resets() != 1 {
		t.Fatalf("resets = %d, want 1 after recovery", env.resources.resets())
	}
}

// A recipients failure after the reset must not consume the day's marker;
// the next poll retries and the reminders still go out.
func TestDailyReminderFanOutRetriesAfterFailure(t *testing.T) {
	inWindow := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	env := newTestEnv(Config{DailyHourUTC: 0}, inWindow)
	env.resources.recipients[storage.PrefDailyReminders] = []int64{101}
	env.resources.recipientsErr = errors.New("settings table locked")
	ctx := context.Background()

	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err == nil {
		t.Fatal("expected error from failing recipients load")
	}
	if _, ok := env.markers.get(markerDailyReset); ok {
		t.Fatal("marker written before the fan-out completed")
	}

	env.resources.recipientsErr = nil
	env.setNow(inWindow.Add(time.Minute))
	if err := env.sched.dailyResetOnce(ctx, logx.Nop()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := len(env.queue.byKind(storage.KindDailyReminder)); got != 1 {
		t.Fatalf("reminders after retry = %d, want 1", got)
	}
	if v, _ := env.markers.get(markerDailyReset); v != "2025-03-10" {
		t.Fatalf("marker = %q, want the day key after the retry", v)
	}
	// The repeated reset is harmless: the store's per-row condition makes the
	// second run a no-op on already-reset users.
	if env.resources.resets() != 2 {
		t.Fatalf("resets = %d, want one per attempt", env.resources.resets())
	}
}
