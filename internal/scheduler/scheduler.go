package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	rtsup "questbot/internal/runtime/supervisor"
	"questbot/internal/storage"
	"questbot/internal/transport"
	"questbot/pkg/logx"
)

// Config holds the timing knobs of the engine. Zero values mean defaults.
type Config struct {
	DispatchInterval time.Duration // dispatch poll; default 30s
	PollInterval     time.Duration // window-check poll; default 60s
	DailyHourUTC     int           // daily trigger hour; default 0 (midnight UTC)
	WindowTolerance  time.Duration // trigger window width; default 5m
	WeeklyWeekday    time.Weekday  // digest weekday; zero value is Sunday, the config layer defaults to Monday
	WeeklyHourUTC    int           // digest hour; default 0
	CleanupInterval  time.Duration // retention cadence; default 1h
	DispatchBatch    int           // due rows per dispatch iteration; default 100
	MaxAttempts      int           // send attempts before terminal failure; default 10
	RetentionDays    int           // sent-notification retention; default 7
}

func (c Config) withDefaults() Config {
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.WindowTolerance <= 0 {
		c.WindowTolerance = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.DispatchBatch <= 0 {
		c.DispatchBatch = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
	return c
}

// NotificationStore is the queue of outbound notifications. The dispatch
// runner is the only component that flips rows to sent.
type NotificationStore interface {
	Enqueue(ctx context.Context, userID int64, kind storage.Kind, title, body string, dueAt time.Time) (int64, error)
	Due(ctx context.Context, now time.Time, limit int) ([]storage.Notification, error)
	MarkSentBatch(ctx context.Context, ids []int64, at time.Time) (int, error)
	RecordAttempt(ctx context.Context, id int64) (int, error)
	MarkFailed(ctx context.Context, id int64) error
}

// ResourceStore exposes per-user charges and preference-based recipient
// filtering.
type ResourceStore interface {
	ResetCharges(ctx context.Context, now time.Time, max int) (int64, error)
	Recipients(ctx context.Context, pref storage.Preference) ([]int64, error)
	WeeklyDigest(ctx context.Context, userID int64, since time.Time) (storage.DigestStats, error)
}

// CampaignStore resolves the currently-active theme week (nil when none).
type CampaignStore interface {
	ActiveCampaign(ctx context.Context, now time.Time) (*storage.Campaign, error)
}

// MarkerStore persists per-task last-fired guards so windowed tasks survive
// restarts without re-firing.
type MarkerStore interface {
	Marker(ctx context.Context, name string) (string, bool, error)
	PutMarker(ctx context.Context, name, value string) error
	PruneMarkers(ctx context.Context, olderThan time.Time) (int64, error)
}

// CleanupStore is the retention surface the hourly job delegates to.
type CleanupStore interface {
	DeleteExpiredPairRequests(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredPairs(ctx context.Context, now time.Time) (int64, error)
	PurgeNotifications(ctx context.Context, olderThan time.Time) (int64, error)
}

// Deps are the collaborators the engine consumes. *storage.Store satisfies
// every store interface.
type Deps struct {
	Notifications NotificationStore
	Resources     ResourceStore
	Campaigns     CampaignStore
	Markers       MarkerStore
	Cleanup       CleanupStore
	Sender        transport.Sender
}

func (d Deps) validate() error {
	switch {
	case d.Notifications == nil:
		return errors.New("scheduler: notification store is required")
	case d.Resources == nil:
		return errors.New("scheduler: resource store is required")
	case d.Campaigns == nil:
		return errors.New("scheduler: campaign store is required")
	case d.Markers == nil:
		return errors.New("scheduler: marker store is required")
	case d.Cleanup == nil:
		return errors.New("scheduler: cleanup store is required")
	case d.Sender == nil:
		return errors.New("scheduler: sender is required")
	}
	return nil
}

// Scheduler owns the run/stop lifecycle of all background runners.
type Scheduler struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  logx.Logger

	// now is the clock hook; tests override it.
	now func() time.Time

	sup     *rtsup.Supervisor
	cron    *cron.Cron
	started bool
}

func New(cfg Config, deps Deps, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  log,
		now:  time.Now,
	}
}

// Start launches all runners. The only fatal error path is missing
// collaborators: without stores no work is possible. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.deps.validate(); err != nil {
		return err
	}

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	s.sup.GoRestart("dispatch", s.loop("dispatch", s.dispatchInterval, s.dispatchOnce))
	s.sup.GoRestart("daily-reset", s.loop("daily-reset", s.pollInterval, s.dailyResetOnce))
	s.sup.GoRestart("weekly-digest", s.loop("weekly-digest", s.pollInterval, s.weeklyDigestOnce))
	s.sup.GoRestart("campaign-switch", s.loop("campaign-switch", s.pollInterval, s.campaignSwitchOnce))

	// The slow-cadence retention job rides on cron instead of its own poll
	// loop; the spec for it is fixed at start.
	c := cron.New(cron.WithLocation(time.UTC))
	spec := fmt.Sprintf("@every %s", s.cfg.CleanupInterval)
	supCtx := s.sup.Context()
	if _, err := c.AddFunc(spec, func() { s.runCleanup(supCtx) }); err != nil {
		s.sup.Cancel()
		s.sup = nil
		return fmt.Errorf("register cleanup job: %w", err)
	}
	c.Start()
	s.cron = c

	s.started = true
	s.log.Info("scheduler started",
		logx.Duration("dispatch_interval", s.cfg.DispatchInterval),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Duration("cleanup_interval", s.cfg.CleanupInterval))
	return nil
}

// Stop signals all runners to exit at their next suspension point and waits
// for in-flight iterations to finish. A second call is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	c := s.cron
	s.sup = nil
	s.cron = nil
	s.started = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped")
	return err
}

// Wait blocks until every runner has exited (normally forever).
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Wait(ctx)
}

// Apply adopts new timing settings for subsequent iterations. The cleanup
// cadence is fixed at Start; a changed value takes effect after a restart.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg.withDefaults()
	changedCleanup := s.started && old.CleanupInterval != s.cfg.CleanupInterval
	s.mu.Unlock()
	if changedCleanup {
		s.log.Warn("cleanup_interval changed; restart to apply", logx.Duration("current", old.CleanupInterval))
	}
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) dispatchInterval() time.Duration { return s.config().DispatchInterval }
func (s *Scheduler) pollInterval() time.Duration     { return s.config().PollInterval }

func (s *Scheduler) clock() time.Time { return s.now().UTC() }
