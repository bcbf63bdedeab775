package config

import (
	"fmt"
	"os"
	"time"
)

const (
	BackendTimer = "timer"
	BackendCron  = "cron"
)

type Config struct {
	TelegramToken    string
	DatabasePath     string
	SchedulerBackend string // "timer" (long-running process) or "cron" (external trigger)

	// CatchupWindow is how late a missed trigger may be after a restart
	// and still fire the same day; anything later waits for tomorrow.
	CatchupWindow   time.Duration
	DispatchTimeout time.Duration
	RetentionDays   int

	DefaultNotifyTime string
	DefaultTimezone   string

	CalDAVURL        string
	CalDAVUsername   string
	CalDAVPassword   string
	CalDAVCalendarID string

	LogLevel string
}

func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/notifybot.db"
	}

	backend := os.Getenv("SCHEDULER_BACKEND")
	if backend == "" {
		backend = BackendTimer
	}
	if backend != BackendTimer && backend != BackendCron {
		return nil, fmt.Errorf("SCHEDULER_BACKEND must be %q or %q, got %q", BackendTimer, BackendCron, backend)
	}

	catchup := 15 * time.Minute
	if v := os.Getenv("CATCHUP_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid CATCHUP_WINDOW: %q", v)
		}
		catchup = d
	}

	dispatchTimeout := 30 * time.Second
	if v := os.Getenv("DISPATCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT: %q", v)
		}
		dispatchTimeout = d
	}

	retentionDays := 90

	notifyTime := os.Getenv("DEFAULT_NOTIFY_TIME")
	if notifyTime == "" {
		notifyTime = "09:00"
	}
	if _, err := time.Parse("15:04", notifyTime); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_NOTIFY_TIME: %q", notifyTime)
	}

	tzName := os.Getenv("DEFAULT_TIMEZONE")
	if tzName == "" {
		tzName = "Asia/Almaty"
	}
	if _, err := time.LoadLocation(tzName); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		TelegramToken:     token,
		DatabasePath:      dbPath,
		SchedulerBackend:  backend,
		CatchupWindow:     catchup,
		DispatchTimeout:   dispatchTimeout,
		RetentionDays:     retentionDays,
		DefaultNotifyTime: notifyTime,
		DefaultTimezone:   tzName,
		CalDAVURL:         os.Getenv("CALDAV_URL"),
		CalDAVUsername:    os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword:    os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendarID:  os.Getenv("CALDAV_CALENDAR_ID"),
		LogLevel:          logLevel,
	}, nil
}
