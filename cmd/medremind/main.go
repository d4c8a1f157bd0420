package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"medremind/internal/config"
	"medremind/internal/ics"
	"medremind/internal/intake"
	appLog "medremind/internal/log"
	"medremind/internal/notify"
	"medremind/internal/push"
	"medremind/internal/reminder"
	"medremind/internal/remote"
	"medremind/internal/schedule"
	"medremind/internal/store"
	"medremind/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dryRun     bool
}

func main() {
	appLog.Info("medremind starting", "version", "0.1.0")

	// Parse CLI flags.
	flags := parseFlags()

	// Load config; a missing file is created with defaults.
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to resolve timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"horizon_days", conf.HorizonDays,
		"lead_minutes", conf.LeadMinutes,
		"resync_cron", conf.ResyncCron,
		"store", conf.Store.Driver,
		"notifier", conf.Notifier.Kind,
		"deliverer", conf.Notifier.Deliverer,
		"sync", conf.Sync.BaseURL != "",
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, loc, flags); err != nil {
		appLog.Error("medremind failed", err)
		os.Exit(1)
	}
	appLog.Info("medremind exiting")
}

func run(ctx context.Context, conf *config.Config, loc *time.Location, flags flagConfig) error {
	// Storage.
	db, err := store.Open(conf.Store.Driver, conf.Store.DSN)
	if err != nil {
		return err
	}
	if err := store.Migrate(db); err != nil {
		return err
	}
	st := store.New(db)

	// Notification backend. Dry runs keep reminders in memory.
	feedback := notify.NewFeedback(100)
	var (
		notifier   notify.Service
		dispatcher *notify.Dispatcher
	)
	if conf.Notifier.Kind == config.NotifierMemory || flags.dryRun {
		notifier = notify.NewMemory()
	} else {
		persistent, err := notify.NewPersistent(db)
		if err != nil {
			return err
		}
		deliverer, err := newDeliverer(ctx, conf)
		if err != nil {
			return err
		}
		notifier = persistent
		dispatcher = notify.NewDispatcher(persistent, deliverer, feedback, conf.DispatchInterval())
	}

	// Optional sync service.
	opts := intake.Options{Timeout: conf.SyncTimeout(), Location: loc}
	rc, err := remote.New(remote.Config{
		BaseURL:  conf.Sync.BaseURL,
		Timeout:  conf.SyncTimeout(),
		UserID:   conf.Sync.UserID,
		Secret:   conf.Sync.Secret,
		CacheDir: conf.Sync.CacheDir,
	})
	switch {
	case errors.Is(err, remote.ErrDisabled):
		appLog.Info("sync service not configured; running offline")
		rc = nil
	case err != nil:
		return err
	default:
		opts.Syncer = rc
	}

	builder := schedule.Builder{Lead: conf.Lead(), HorizonDays: conf.HorizonDays, Location: loc}
	resyncer := reminder.New(notifier, builder, st)
	opts.Coordinator = resyncer
	recorder := intake.NewRecorder(st, opts)

	// Rebuild reminders from the store before serving.
	if n, err := resyncer.ResyncStore(ctx, time.Now()); err != nil {
		appLog.Warn("initial resync failed", err)
	} else {
		appLog.Info("initial resync done", "scheduled", n)
	}

	if flags.once {
		if rc != nil {
			if n, err := recorder.RetryUnsynced(ctx); err != nil {
				appLog.Warn("sync retry failed", err)
			} else {
				appLog.Info("sync retry done", "pushed", n)
			}
		}
		return nil
	}

	// Periodic resync and sync retry.
	if conf.ResyncEnabled() {
		c := cron.New(cron.WithLocation(loc))
		_, err := c.AddFunc(conf.ResyncCron, func() {
			now := time.Now()
			if n, err := resyncer.ResyncStore(ctx, now); err != nil {
				appLog.Warn("scheduled resync failed", err)
			} else {
				appLog.Info("scheduled resync done", "scheduled", n)
			}
			if rc == nil {
				return
			}
			if _, err := recorder.RetryUnsynced(ctx); err != nil {
				appLog.Warn("sync retry failed", err)
			}
		})
		if err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
	}

	if dispatcher != nil {
		go dispatcher.Run(ctx)
	}

	// HTTP server blocks until ctx is cancelled.
	srv := web.NewServer(conf, web.Deps{
		Store:    st,
		Recorder: recorder,
		Resolver: intake.NewResolver(st, loc),
		Sync:     resyncer,
		Builder:  builder,
		Notifier: notifier,
		Feedback: feedback,
		Exporter: ics.Exporter{Location: loc, Lead: conf.Lead()},
		Remote:   rc,
		Location: loc,
	})
	return srv.ListenAndServe(ctx)
}

func newDeliverer(ctx context.Context, conf *config.Config) (notify.Deliverer, error) {
	if conf.Notifier.Deliverer == config.DelivererFCM {
		return push.NewFCM(ctx, conf.Notifier.FCMCredentials, conf.Notifier.FCMTokens)
	}
	return notify.LogDeliverer{}, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/medremind/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one resync (and sync retry) and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Hold reminders in memory only; nothing is delivered")

	flag.Parse()

	return cfg
}
