package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"questbot/internal/config"
	rtsup "questbot/internal/runtime/supervisor"
	"questbot/internal/scheduler"
	"questbot/internal/storage"
	"questbot/internal/transport/telegram"
	"questbot/pkg/logx"
)

// App wires config, logging, storage, the Telegram sender and the background
// engine together. Handlers and admin screens are separate concerns; they
// reach the queue through Store().
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	mu      sync.Mutex
	store   *storage.Store
	sender  *telegram.Adapter
	sched   *scheduler.Scheduler
	sup     *rtsup.Supervisor
	started bool
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	mgr.SetValidator(config.Validate)

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))

	return &App{cfgMgr: mgr, logSvc: logSvc, log: log}, nil
}

// Start opens the store, builds the sender and launches the engine. Failing
// to acquire any of these is fatal: no work is possible without them.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	cfg := a.cfgMgr.Get()

	busy, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		a.log.With(logx.String("component", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	sender, err := telegram.New(telegramConfig(cfg), a.log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("telegram: %w", err)
	}

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return err
	}
	sched := scheduler.New(schedCfg, scheduler.Deps{
		Notifications: store,
		Resources:     store,
		Campaigns:     store,
		Markers:       store,
		Cleanup:       store,
		Sender:        sender,
	}, a.log.With(logx.String("component", "scheduler")))

	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	if err := sched.Start(sup.Context()); err != nil {
		sup.Cancel()
		_ = store.Close()
		return err
	}

	// Config hot reload: watch the file and apply validated changes.
	sup.Go("config.watch", a.cfgMgr.Watch)
	updates := a.cfgMgr.Subscribe(1)
	sup.Go("config.apply", func(ctx context.Context) error {
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(next)
			}
		}
	})

	a.store = store
	a.sender = sender
	a.sched = sched
	a.sup = sup
	a.started = true
	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.mu.Lock()
	sender := a.sender
	sched := a.sched
	a.mu.Unlock()
	if sender != nil {
		sender.Apply(telegramConfig(cfg))
	}
	if sched != nil {
		if schedCfg, err := schedulerConfig(cfg); err == nil {
			sched.Apply(schedCfg)
		} else {
			a.log.Warn("scheduler config not applied", logx.Err(err))
		}
	}
}

// Stop shuts the engine down, then releases storage and log sinks. Safe to
// call more than once.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	sched := a.sched
	sup := a.sup
	store := a.store
	a.sched = nil
	a.sup = nil
	a.store = nil
	a.sender = nil
	a.started = false
	a.mu.Unlock()

	var firstErr error
	if sched != nil {
		if err := sched.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if store != nil {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = a.logSvc.Close()
	return firstErr
}

// Store exposes the persistence layer to the request-handling side (enqueue
// of welcome/test/mission notifications, settings screens, seeds).
func (a *App) Store() *storage.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store
}

func telegramConfig(cfg *config.Config) telegram.Config {
	timeout, _ := config.ParseDuration("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		RatePerSec:  cfg.Telegram.RatePerSec,
		SendTimeout: timeout,
	}
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	dispatch, err := config.ParseDuration("scheduler.dispatch_interval", sc.DispatchInterval, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	poll, err := config.ParseDuration("scheduler.poll_interval", sc.PollInterval, time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	tolerance, err := config.ParseDuration("scheduler.window_tolerance", sc.WindowTolerance, 5*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	cleanup, err := config.ParseDuration("scheduler.cleanup_interval", sc.CleanupInterval, time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		DispatchInterval: dispatch,
		PollInterval:     poll,
		DailyHourUTC:     sc.DailyHour(),
		WindowTolerance:  tolerance,
		WeeklyWeekday:    sc.Weekday(),
		WeeklyHourUTC:    sc.WeeklyHour(),
		CleanupInterval:  cleanup,
		DispatchBatch:    sc.DispatchBatch,
		MaxAttempts:      sc.MaxAttempts,
		RetentionDays:    sc.RetentionDays,
	}, nil
}
