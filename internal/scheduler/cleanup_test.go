package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

func TestCleanupRunsEveryStep(t *testing.T) {
	env := newTestEnv(Config{RetentionDays: 7}, testNow)
	if err := env.sched.cleanupOnce(context.Background(), logx.Nop()); err != nil {
		t.Fatalf("cleanupOnce: %v", err)
	}
	c := env.cleanup
	if c.pairRequestCalls != 1 || c.pairCalls != 1 || c.purgeCalls != 1 {
		t.Fatalf("steps ran %d/%d/%d times, want 1/1/1", c.pairRequestCalls, c.pairCalls, c.purgeCalls)
	}
	want := testNow.AddDate(0, 0, -7)
	if !c.lastPurgeCutoff.Equal(want) {
		t.Fatalf("purge cutoff = %v, want %v", c.lastPurgeCutoff, want)
	}
}

func TestCleanupContinuesPastFailures(t *testing.T) {
	env := newTestEnv(Config{}, testNow)
	pairErr := errors.New("pair table locked")
	purgeErr := errors.New("purge failed")
	env.cleanup.pairRequestErr = pairErr
	env.cleanup.purgeErr = purgeErr

	err := env.sched.cleanupOnce(context.Background(), logx.Nop())
	if !errors.Is(err, pairErr) || !errors.Is(err, purgeErr) {
		t.Fatalf("joined error missing causes: %v", err)
	}
	// The step between the two failures still ran.
	if env.cleanup.pairCalls != 1 {
		t.Fatal("expired-pairs step skipped after earlier failure")
	}
}

func TestCleanupRespectsRetentionConfig(t *testing.T) {
	env := newTestEnv(Config{RetentionDays: 30}, testNow)
	if err := env.sched.cleanupOnce(context.Background(), logx.Nop()); err != nil {
		t.Fatalf("cleanupOnce: %v", err)
	}
	want := testNow.AddDate(0, 0, -30)
	if !env.cleanup.lastPurgeCutoff.Equal(want) {
		t.Fatalf("purge cutoff = %v, want %v", env.cleanup.lastPurgeCutoff, want)
	}
}

func TestRenderDigestIncludesAllStats(t *testing.T) {
	t.Parallel()
	got := renderDigest(storage.DigestStats{Completed: 5, Points: 150, Level: 4, Charges: 1})
	for _, want := range []string{
		"Missions completed this week: 5",
		"Points earned: 150",
		"Level: 4",
		"Charges left: 1/3",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("digest %q missing %q", got, want)
		}
	}
}
