package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("not found")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Kind enumerates notification kinds. Producers outside the engine may enqueue
// any of these; the dispatch runner treats them uniformly.
type Kind string

const (
	KindDailyReminder    Kind = "daily_reminder"
	KindWeeklyStats      Kind = "weekly_stats"
	KindMissionCompleted Kind = "mission_completed"
	KindPairMission      Kind = "pair_mission"
	KindCampaignStart    Kind = "campaign_start"
	KindTest             Kind = "test"
	KindWelcome          Kind = "welcome"
	KindChargeRestored   Kind = "charge_restored"
)

// Notification is one queued outbound message.
//
// Lifecycle: created with Sent=false (DueAt possibly in the future); flipped to
// Sent=true exactly once by the dispatch runner; rows that exhaust their send
// attempts become Failed instead and are never retried again.
type Notification struct {
	ID        int64
	UserID    int64
	Kind      Kind
	Title     string // optional
	Body      string
	DueAt     time.Time
	Sent      bool
	SentAt    time.Time // zero unless Sent
	Attempts  int
	Failed    bool
	CreatedAt time.Time
}

// Settings are per-user notification preferences. A missing row reads as
// all-enabled defaults.
type Settings struct {
	UserID          int64
	Enabled         bool
	DailyReminders  bool
	WeeklyStats     bool
	MissionUpdates  bool
	PairUpdates     bool
}

// Preference names a settings flag for recipient filtering.
type Preference string

const (
	PrefEnabled        Preference = "enabled"
	PrefDailyReminders Preference = "daily_reminders"
	PrefWeeklyStats    Preference = "weekly_stats"
	PrefMissionUpdates Preference = "mission_notifications"
	PrefPairUpdates    Preference = "pair_notifications"
)

// Campaign is a time-boxed theme week. At most one is treated as currently
// active; when windows overlap the latest start wins.
type Campaign struct {
	ID          int64
	Name        string
	Description string
	Tags        []string
	StartAt     time.Time
	EndAt       time.Time
	Active      bool
}

// DigestStats feeds the weekly digest notification for one user.
type DigestStats struct {
	Completed int // completions in the window
	Points    int // points earned in the window
	Level     int
	Charges   int
}
