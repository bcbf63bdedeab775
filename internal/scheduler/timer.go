package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eventgreen/notifybot/config"
	"github.com/eventgreen/notifybot/internal/domain"
	"github.com/eventgreen/notifybot/internal/storage"
)

// TimerScheduler is the long-running-process backend: one in-memory
// countdown per enabled user, re-armed daily after each fire.
//
// Per user the timer moves Idle -> Armed -> Fired -> Idle(next day).
// A user is Armed while present in the timers map; the fire callback
// is the single control point that re-arms, so there is no recursive
// re-registration. Generation numbers invalidate callbacks from timers
// that were replaced by a reconfiguration.
type TimerScheduler struct {
	cfg   *config.Config
	store *storage.Storage
	disp  Dispatcher
	log   zerolog.Logger

	nowFn func() time.Time

	mu      sync.Mutex
	timers  map[int64]*armedTimer
	lastGen uint64
	stopped bool
}

type armedTimer struct {
	timer *time.Timer
	next  time.Time
	gen   uint64
}

func NewTimerScheduler(cfg *config.Config, store *storage.Storage, disp Dispatcher, log zerolog.Logger) *TimerScheduler {
	return &TimerScheduler{
		cfg:    cfg,
		store:  store,
		disp:   disp,
		log:    log.With().Str("component", "timer_scheduler").Logger(),
		nowFn:  func() time.Time { return time.Now().UTC() },
		timers: make(map[int64]*armedTimer),
	}
}

// Start hydrates all enabled configs from the store and arms a timer
// for each, with same-day catch-up for triggers missed during a short
// downtime. It then blocks, running the daily ledger retention sweep,
// until ctx is cancelled.
func (t *TimerScheduler) Start(ctx context.Context) error {
	configs, err := t.store.ListEnabledConfigs()
	if err != nil {
		return err
	}

	now := t.nowFn()
	for _, c := range configs {
		t.arm(c, now, true)
	}
	t.log.Info().Int("users", len(configs)).Dur("catchup_window", t.cfg.CatchupWindow).
		Msg("timer scheduler started")

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := storage.RetentionCutoff(t.nowFn(), t.cfg.RetentionDays)
			if n, err := t.store.PruneFireRecords(cutoff); err != nil {
				t.log.Error().Err(err).Msg("prune fire records")
			} else if n > 0 {
				t.log.Info().Int64("pruned", n).Str("cutoff", cutoff).Msg("fire records pruned")
			}
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func (t *TimerScheduler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	for _, at := range t.timers {
		at.timer.Stop()
	}
	t.timers = make(map[int64]*armedTimer)
	t.log.Info().Msg("timer scheduler stopped")
}

// OnConfigChanged re-arms (or drops) the user's timer to match the new
// configuration.
func (t *TimerScheduler) OnConfigChanged(c *domain.NotificationConfig) {
	if c == nil {
		return
	}
	if !c.Enabled {
		t.mu.Lock()
		if at, ok := t.timers[c.UserID]; ok {
			at.timer.Stop()
			delete(t.timers, c.UserID)
		}
		t.mu.Unlock()
		t.log.Info().Int64("user_id", c.UserID).Msg("timer disarmed")
		return
	}
	t.arm(c, t.nowFn(), false)
}

func (t *TimerScheduler) Status() ([]UserStatus, error) {
	return statusSnapshot(t.store, t.nowFn())
}

// arm schedules the user's next fire. With catchUp, a trigger that
// passed less than CatchupWindow ago fires immediately instead of
// waiting for tomorrow; the ledger keeps that at once per day.
func (t *TimerScheduler) arm(c *domain.NotificationConfig, now time.Time, catchUp bool) {
	t.armGen(c, now, catchUp, 0)
}

// armGen installs the user's next countdown. A non-zero expect makes
// the replacement conditional: it only happens while the user's current
// timer still carries that generation, so a reconfiguration racing a
// fire callback's re-arm keeps its newer schedule.
func (t *TimerScheduler) armGen(c *domain.NotificationConfig, now time.Time, catchUp bool, expect uint64) {
	userID := c.UserID
	next, err := domain.ResolveNext(c.Time, c.Timezone, now)
	if err != nil {
		t.log.Error().Err(err).Int64("user_id", userID).Msg("cannot resolve trigger")
		if expect != 0 {
			t.disarm(userID, expect)
		}
		return
	}
	if catchUp && t.cfg.CatchupWindow > 0 {
		missed, err := domain.ResolveNext(c.Time, c.Timezone, now.Add(-t.cfg.CatchupWindow))
		if err == nil && !missed.After(now) {
			next = now
		}
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	old, ok := t.timers[userID]
	if expect != 0 && (!ok || old.gen != expect) {
		t.mu.Unlock()
		return
	}
	if ok {
		old.timer.Stop()
	}
	t.lastGen++
	gen := t.lastGen
	at := &armedTimer{next: next, gen: gen}
	at.timer = time.AfterFunc(next.Sub(now), func() { t.fire(userID, gen) })
	t.timers[userID] = at
	t.mu.Unlock()

	t.log.Debug().Int64("user_id", userID).Time("next", next).Msg("timer armed")
}

// retryFire keeps a user scheduled after a transient store failure by
// replacing the spent timer with a short-delay retry of the same fire.
func (t *TimerScheduler) retryFire(userID int64, expect uint64, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	at, ok := t.timers[userID]
	if !ok || at.gen != expect {
		return
	}
	at.timer.Stop()
	t.lastGen++
	gen := t.lastGen
	nt := &armedTimer{next: t.nowFn().Add(delay), gen: gen}
	nt.timer = time.AfterFunc(delay, func() { t.fire(userID, gen) })
	t.timers[userID] = nt
}

// storeRetryDelay spaces out fire retries while the store is failing.
const storeRetryDelay = time.Minute

// fire runs in the timer's own goroutine; a slow dispatch for one user
// never delays another user's fire. Every path either re-arms or
// retries: a failure must not stall the user's future days. Only a
// disabled config disarms.
func (t *TimerScheduler) fire(userID int64, gen uint64) {
	if !t.owns(userID, gen) {
		return
	}

	now := t.nowFn()
	cfg, err := t.store.GetConfig(userID)
	if err != nil {
		t.log.Error().Err(err).Int64("user_id", userID).
			Dur("retry_in", storeRetryDelay).Msg("fire: load config")
		t.retryFire(userID, gen, storeRetryDelay)
		return
	}
	if !cfg.Enabled {
		t.disarm(userID, gen)
		return
	}

	if localDate, err := domain.LocalDate(cfg.Timezone, now); err != nil {
		t.log.Error().Err(err).Int64("user_id", userID).Msg("fire: local date")
	} else {
		acquired, err := t.store.RecordFireAttempt(userID, localDate)
		switch {
		case err != nil:
			t.log.Error().Err(err).Int64("user_id", userID).Str("date", localDate).Msg("fire: record attempt")
		case !acquired:
			// duplicate trigger for this date, e.g. a restart re-armed a
			// timer that already fired today
			t.log.Debug().Int64("user_id", userID).Str("date", localDate).Msg("fire already recorded")
		default:
			dispatchAcquired(t.cfg.DispatchTimeout, t.store, t.disp, t.log, userID, localDate)
		}
	}

	t.armGen(cfg, t.nowFn(), false, gen)
}

// owns reports whether the (userID, gen) timer is still the current one;
// a reconfiguration mid-fire supersedes it.
func (t *TimerScheduler) owns(userID int64, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.timers[userID]
	return ok && at.gen == gen && !t.stopped
}

func (t *TimerScheduler) disarm(userID int64, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at, ok := t.timers[userID]; ok && at.gen == gen {
		at.timer.Stop()
		delete(t.timers, userID)
	}
}
