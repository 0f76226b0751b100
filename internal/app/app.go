// Package app wires configuration, logging, storage, the Telegram adapter,
// the feed client, and the relay loop into one runnable bot.
package app

import (
	"context"
	"fmt"
	"time"

	"xrelay/internal/config"
	"xrelay/internal/feed"
	"xrelay/internal/notify"
	"xrelay/internal/relay"
	"xrelay/internal/runtime/supervisor"
	"xrelay/internal/store"
	"xrelay/internal/transport"
	"xrelay/internal/transport/telegram"
	"xrelay/pkg/logx"
)

const startReply = "Subscribed. New posts from the watched X accounts will land here."

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	st      store.Store
	adapter *telegram.Adapter
	relay   *relay.Service
	admin   *notify.Admin

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollInterval, err := config.ParseDurationOrDefault("x.poll_interval", cfg.X.PollInterval, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	backfill, err := config.ParseDurationOrDefault("x.backfill_window", cfg.X.BackfillWindow, pollInterval)
	if err != nil {
		return nil, err
	}
	client, err := feed.New(feed.Config{
		BearerToken:    cfg.X.BearerToken,
		WatchUsers:     cfg.X.WatchUsers,
		BackfillWindow: backfill,
	}, logs.Logger().With(logx.String("comp", "feed")))
	if err != nil {
		return nil, err
	}

	sendGap, err := config.ParseDurationOrDefault("relay.send_gap", cfg.Relay.SendGap, 150*time.Millisecond)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		st:      st,
		adapter: adapter,
		admin:   notify.NewAdmin(adapter, cfg.Telegram.AdminID, logs.Logger().With(logx.String("comp", "notify"))),
	}
	a.relay = relay.New(relay.Config{
		PollInterval: pollInterval,
		SendGap:      sendGap,
	}, client, st, adapter, logs.Logger().With(logx.String("comp", "relay")))

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithFailureHook(func(name string, err error, stack string) {
			a.admin.ReportFailure(context.Background(), name, err, stack)
		}),
	)

	a.adapter.OnStart(a.handleStart)
	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.GoRestart("relay.loop", a.relay.Run, time.Second, time.Minute)

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c.Done(), a.applyConfig)
	})

	cfg := a.cfgm.Current()
	a.log.Info("bot started",
		logx.Int("watch_users", len(cfg.X.WatchUsers)),
		logx.Bool("admin_notify", a.admin.Enabled()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
	}
	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Wait(ctx)
	}
	err := a.st.Close()
	_ = a.logs.Close()
	return err
}

// handleStart registers (or refreshes) the sender as a subscriber.
// Re-registration is not an error; it just bumps the profile.
func (a *App) handleStart(ctx context.Context, u transport.User) string {
	isNew, err := a.st.UpsertSubscriber(ctx, store.Subscriber{
		ChatID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
	})
	if err != nil {
		a.log.Error("subscriber registration failed", logx.Int64("chat_id", u.ID), logx.Err(err))
		return "Something went wrong, please try /start again."
	}
	if isNew {
		a.log.Info("new subscriber",
			logx.Int64("chat_id", u.ID), logx.String("username", u.Username))
	}
	return startReply
}

// applyConfig reacts to a config file change. Only logging settings are
// re-applied at runtime; transport and feed settings need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logCfg(cfg))
	a.log.Info("logging config re-applied", logx.String("level", cfg.Logging.Level))
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
