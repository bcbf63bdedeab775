package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eventgreen/notifybot/config"
	"github.com/eventgreen/notifybot/internal/bot"
	"github.com/eventgreen/notifybot/internal/clients/caldav"
	"github.com/eventgreen/notifybot/internal/scheduler"
	"github.com/eventgreen/notifybot/internal/service"
	"github.com/eventgreen/notifybot/internal/storage"
)

func main() {
	tick := flag.Bool("tick", false, "run one projection pass and exit (for an external cron trigger)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	events := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendarID)
	if !events.IsConfigured() {
		logger.Warn().Msg("CalDAV is not configured, digests will report failures")
	}

	tgBot, err := bot.New(cfg, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init bot")
	}

	notifySvc := service.NewNotificationService(events, tgBot, logger)

	sched, err := scheduler.New(cfg, store, notifySvc, logger)
	if err != nil {
		// refusing to start beats silently dropping all notifications
		logger.Fatal().Err(err).Msg("init scheduler")
	}

	if *tick {
		projector, ok := sched.(*scheduler.CronProjector)
		if !ok {
			logger.Fatal().Msg("-tick requires SCHEDULER_BACKEND=cron")
		}
		projector.RunOnce(time.Now().UTC())
		return
	}

	tgBot.SetScheduler(sched)
	tgBot.SetNotifier(notifySvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("scheduler failed")
		}
	}()
	go func() {
		if err := tgBot.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("bot stopped with error")
		}
	}()

	logger.Info().Str("backend", cfg.SchedulerBackend).Msg("notifybot started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()
	sched.Stop()
	logger.Info().Msg("notifybot stopped")
}
