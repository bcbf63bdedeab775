package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eventgreen/notifybot/config"
	"github.com/eventgreen/notifybot/internal/domain"
	"github.com/eventgreen/notifybot/internal/storage"
)

// CronProjector is the externally-triggered backend. It keeps no
// timers: every invocation projects "now" onto each enabled config and
// fires the users whose local wall clock matches their configured
// minute. RecordFireAttempt stays the serialization point, so
// overlapping invocations are safe. A minute the external trigger
// skipped is simply lost; at least one trigger per minute is an assumed
// property of the environment.
type CronProjector struct {
	cfg   *config.Config
	store *storage.Storage
	disp  Dispatcher
	log   zerolog.Logger
	cron  *cron.Cron
	nowFn func() time.Time
}

func NewCronProjector(cfg *config.Config, store *storage.Storage, disp Dispatcher, log zerolog.Logger) *CronProjector {
	return &CronProjector{
		cfg:   cfg,
		store: store,
		disp:  disp,
		log:   log.With().Str("component", "cron_projector").Logger(),
		cron:  cron.New(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Start drives RunOnce from an in-process per-minute cron and blocks
// until ctx is cancelled. Serverless deployments skip Start and call
// RunOnce from the external trigger instead (cmd/bot -tick).
func (p *CronProjector) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc("* * * * *", func() { p.RunOnce(p.nowFn()) }); err != nil {
		return fmt.Errorf("add projection sweep: %w", err)
	}
	p.cron.Start()
	p.log.Info().Msg("cron projector started")

	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *CronProjector) Stop() {
	<-p.cron.Stop().Done()
}

// OnConfigChanged is a no-op: the projector reads the store on every
// sweep, so the next invocation already sees the new configuration.
func (p *CronProjector) OnConfigChanged(c *domain.NotificationConfig) {
	if c != nil {
		p.log.Debug().Int64("user_id", c.UserID).Msg("config change picked up on next sweep")
	}
}

func (p *CronProjector) Status() ([]UserStatus, error) {
	return statusSnapshot(p.store, p.nowFn())
}

// RunOnce performs a single projection pass for the given instant.
// Matched users are dispatched concurrently; the call returns when all
// dispatches for this pass have completed.
func (p *CronProjector) RunOnce(nowUTC time.Time) {
	configs, err := p.store.ListEnabledConfigs()
	if err != nil {
		p.log.Error().Err(err).Msg("projection: list configs")
		return
	}

	var wg sync.WaitGroup
	matched := 0
	for _, c := range configs {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			p.log.Warn().Int64("user_id", c.UserID).Str("timezone", c.Timezone).Msg("projection: bad timezone in store")
			continue
		}
		local := nowUTC.In(loc)
		if local.Hour() != c.Time.Hour || local.Minute() != c.Time.Minute {
			continue
		}

		localDate := local.Format("2006-01-02")
		acquired, err := p.store.RecordFireAttempt(c.UserID, localDate)
		if err != nil {
			p.log.Error().Err(err).Int64("user_id", c.UserID).Str("date", localDate).Msg("projection: record attempt")
			continue
		}
		if !acquired {
			// a second invocation inside the same minute, or an
			// overlapping run: silently absorbed
			p.log.Debug().Int64("user_id", c.UserID).Str("date", localDate).Msg("fire already recorded")
			continue
		}

		matched++
		userID := c.UserID
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatchAcquired(p.cfg.DispatchTimeout, p.store, p.disp, p.log, userID, localDate)
		}()
	}
	wg.Wait()

	if matched > 0 {
		p.log.Info().Int("dispatched", matched).Time("at", nowUTC).Msg("projection pass complete")
	}
}
