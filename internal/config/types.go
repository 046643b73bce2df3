package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config is the full bot configuration. Fields use JSON tags; YAML input is
// coerced to JSON before decoding so both formats share one strict decoder.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console *bool          `json:"console,omitempty"` // nil means true
	File    LogFileConfig  `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // duration, sqlite busy handler
}

type TelegramConfig struct {
	Token       string `json:"token"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`  // outbound sends per second
	SendTimeout string `json:"send_timeout,omitempty"`  // per-send deadline
}

// SchedulerConfig holds the timing knobs of the background engine.
// All hours/weekdays are UTC; see the window evaluator.
type SchedulerConfig struct {
	DispatchInterval string `json:"dispatch_interval,omitempty"` // default 30s
	PollInterval     string `json:"poll_interval,omitempty"`     // default 60s
	DailyHourUTC     *int   `json:"daily_hour_utc,omitempty"`    // default 0
	WindowTolerance  string `json:"window_tolerance,omitempty"`  // default 5m
	WeeklyWeekday    *int   `json:"weekly_weekday,omitempty"`    // 0=Sunday; default 1 (Monday)
	WeeklyHourUTC    *int   `json:"weekly_hour_utc,omitempty"`   // default 0
	CleanupInterval  string `json:"cleanup_interval,omitempty"`  // default 1h
	DispatchBatch    int    `json:"dispatch_batch,omitempty"`    // default 100
	MaxAttempts      int    `json:"max_attempts,omitempty"`      // default 10
	RetentionDays    int    `json:"retention_days,omitempty"`    // default 7
}

func (c *LoggingConfig) ConsoleEnabled() bool {
	return c.Console == nil || *c.Console
}

func (c *SchedulerConfig) DailyHour() int {
	if c.DailyHourUTC == nil {
		return 0
	}
	return *c.DailyHourUTC
}

func (c *SchedulerConfig) WeeklyHour() int {
	if c.WeeklyHourUTC == nil {
		return 0
	}
	return *c.WeeklyHourUTC
}

func (c *SchedulerConfig) Weekday() time.Weekday {
	if c.WeeklyWeekday == nil {
		return time.Monday
	}
	return time.Weekday(*c.WeeklyWeekday)
}

// Validate checks static constraints. It does not touch the network.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if h := cfg.Scheduler.DailyHour(); h < 0 || h > 23 {
		return fmt.Errorf("scheduler.daily_hour_utc: must be 0..23, got %d", h)
	}
	if h := cfg.Scheduler.WeeklyHour(); h < 0 || h > 23 {
		return fmt.Errorf("scheduler.weekly_hour_utc: must be 0..23, got %d", h)
	}
	if d := cfg.Scheduler.Weekday(); d < time.Sunday || d > time.Saturday {
		return fmt.Errorf("scheduler.weekly_weekday: must be 0..6, got %d", int(d))
	}
	if cfg.Scheduler.MaxAttempts < 0 {
		return fmt.Errorf("scheduler.max_attempts: must be >= 0")
	}
	if cfg.Scheduler.RetentionDays < 0 {
		return fmt.Errorf("scheduler.retention_days: must be >= 0")
	}
	// Duration fields fail fast here rather than at first use.
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"telegram.send_timeout", cfg.Telegram.SendTimeout},
		{"scheduler.dispatch_interval", cfg.Scheduler.DispatchInterval},
		{"scheduler.poll_interval", cfg.Scheduler.PollInterval},
		{"scheduler.window_tolerance", cfg.Scheduler.WindowTolerance},
		{"scheduler.cleanup_interval", cfg.Scheduler.CleanupInterval},
	} {
		if _, err := ParseDuration(f.path, f.raw, 0); err != nil {
			return err
		}
	}
	return nil
}
