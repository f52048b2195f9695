// Package app wires the pricewatch components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pricewatch/internal/catalog"
	"pricewatch/internal/config"
	"pricewatch/internal/handsoff"
	"pricewatch/internal/monitor"
	"pricewatch/internal/notify"
	"pricewatch/internal/notify/email"
	"pricewatch/internal/notify/telegram"
	"pricewatch/internal/pricesource"
	"pricewatch/internal/report"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      *storage.Store
	dispatcher *notify.Dispatcher
	sched      *scheduler.Scheduler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")
	cfgMgr := config.NewManager(cfgPath, boot)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busyTimeout, err := cfg.BusyTimeoutDuration()
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store

	channels, err := a.buildChannels(cfg)
	if err != nil {
		_ = store.Close()
		return err
	}
	policy, err := notify.ParsePolicy(cfg.Notify.SuccessPolicy)
	if err != nil {
		_ = store.Close()
		return err
	}
	a.dispatcher = notify.NewDispatcher(channels, policy, a.log.With(logx.String("comp", "notify")))
	if len(channels) == 0 {
		a.log.Warn("no notification channels configured; publish decisions will not be recorded")
	}

	source := buildSource(cfg)
	mon := monitor.New(store, source, a.log.With(logx.String("comp", "monitor")))
	engine := handsoff.New(store, store, a.dispatcher, cfg.Cooldown(), a.log.With(logx.String("comp", "handsoff")))

	var mailer report.Mailer
	if cfg.Email.Enabled {
		sender, err := email.NewSender(email.Config{
			SMTPHost:   cfg.Email.SMTPHost,
			SMTPPort:   cfg.Email.SMTPPort,
			Username:   cfg.Email.Username,
			Password:   cfg.Email.Password,
			From:       cfg.Email.From,
			Recipients: cfg.Email.Recipients,
		})
		if err != nil {
			_ = store.Close()
			return err
		}
		mailer = sender
	}
	reporter := report.New(store, mailer, a.log.With(logx.String("comp", "report")))

	return a.buildScheduler(cfg, mon, engine, reporter)
}

func (a *App) buildChannels(cfg *config.Config) ([]notify.Channel, error) {
	var channels []notify.Channel
	if cfg.Telegram.Enabled {
		tg, err := telegram.New(telegram.Config{
			Token:      cfg.Telegram.Token,
			ChatIDs:    cfg.Telegram.ChatIDs,
			RatePerSec: cfg.Telegram.RatePerSec,
		}, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	return channels, nil
}

func buildSource(cfg *config.Config) pricesource.Source {
	switch cfg.Source.Kind {
	case "static":
		return pricesource.Static{}
	default:
		return pricesource.Simulated{DropPercent: cfg.Source.DropPercent}
	}
}

func (a *App) buildScheduler(cfg *config.Config, mon *monitor.Monitor, engine *handsoff.Engine, reporter *report.Reporter) error {
	pollInterval, err := cfg.PollIntervalDuration()
	if err != nil {
		return err
	}
	jobTimeout, err := cfg.JobTimeoutDuration()
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Config{
		PollInterval: pollInterval,
		JobTimeout:   jobTimeout,
	}, a.log.With(logx.String("comp", "scheduler")))

	sched.AddJob("price-monitor", scheduler.IntervalHours(cfg.Scheduler.SweepIntervalHours), mon.Sweep)
	sched.AddJob("hands-off-publisher", scheduler.IntervalHours(cfg.Scheduler.SweepIntervalHours), engine.Sweep)

	daily, err := scheduler.DailyAt(cfg.Scheduler.DailyReportHour)
	if err != nil {
		return err
	}
	sched.AddJob("daily-report", daily, func(ctx context.Context) error {
		return reporter.Send(ctx, report.Daily)
	})

	weekday, err := cfg.WeeklyReportWeekday()
	if err != nil {
		return err
	}
	weekly, err := scheduler.WeeklyAt(weekday, cfg.Scheduler.DailyReportHour)
	if err != nil {
		return err
	}
	sched.AddJob("weekly-report", weekly, func(ctx context.Context) error {
		return reporter.Send(ctx, report.Weekly)
	})

	monthly, err := scheduler.MonthlyAt(cfg.Scheduler.MonthlyReportDay, cfg.Scheduler.DailyReportHour)
	if err != nil {
		return err
	}
	sched.AddJob("monthly-report", monthly, func(ctx context.Context) error {
		return reporter.Send(ctx, report.Monthly)
	})

	a.sched = sched
	return nil
}

// Seed inserts or updates catalog items (the -seed flag's write path).
func (a *App) Seed(ctx context.Context, items []catalog.Item) error {
	for _, it := range items {
		if err := a.store.UpsertItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the scheduler loop and the config watcher. It returns
// immediately; cancel the context (or call Stop) to shut down.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sched.Run(runCtx)
	}()

	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	a.log.Info("pricewatch started", logx.Any("jobs", a.sched.Jobs()))
	return nil
}

// applyReload picks up the settings that are safe to change at runtime.
// Anything structural (storage path, channel wiring) needs a restart.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if policy, err := notify.ParsePolicy(cfg.Notify.SuccessPolicy); err == nil {
		a.dispatcher.SetPolicy(policy)
	}
	a.log.Info("runtime config applied",
		logx.String("success_policy", strings.ToLower(cfg.Notify.SuccessPolicy)),
	)
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	err := a.store.Close()
	_ = a.logSvc.Close()
	return err
}
