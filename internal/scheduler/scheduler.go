package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eventgreen/notifybot/config"
	"github.com/eventgreen/notifybot/internal/domain"
	"github.com/eventgreen/notifybot/internal/storage"
)

// Dispatcher delivers one user's daily digest. Implemented by
// service.NotificationService; faked in tests.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID int64, localDate string) domain.Outcome
}

// UserStatus is the per-user diagnostic summary exposed to /status.
type UserStatus struct {
	UserID      int64
	Time        domain.TimeOfDay
	Timezone    string
	NextTrigger time.Time // UTC; zero when it cannot be resolved
	LastDate    string
	LastStatus  domain.FireStatus
}

// Scheduler is the single contract both backends implement. The
// backend is chosen once at startup and never re-evaluated.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	OnConfigChanged(cfg *domain.NotificationConfig)
	Status() ([]UserStatus, error)
}

// New selects the backend from configuration. An unknown backend is a
// startup error: refusing to run beats silently dropping every
// notification.
func New(cfg *config.Config, store *storage.Storage, disp Dispatcher, log zerolog.Logger) (Scheduler, error) {
	switch cfg.SchedulerBackend {
	case config.BackendTimer:
		return NewTimerScheduler(cfg, store, disp, log), nil
	case config.BackendCron:
		return NewCronProjector(cfg, store, disp, log), nil
	default:
		return nil, fmt.Errorf("unknown scheduler backend %q", cfg.SchedulerBackend)
	}
}

// dispatchAcquired completes a fire attempt that was already won via
// RecordFireAttempt: it re-checks the enabled flag (so a disable that
// raced the trigger never dispatches), runs the dispatcher under the
// configured deadline and records the outcome. No store lock is held
// across the dispatch call.
func dispatchAcquired(timeout time.Duration, store *storage.Storage, disp Dispatcher, log zerolog.Logger, userID int64, localDate string) {
	fresh, err := store.GetConfig(userID)
	switch {
	case err != nil:
		log.Error().Err(err).Int64("user_id", userID).Msg("dispatch: load config")
		if mErr := store.MarkOutcome(userID, localDate, domain.FireFailed); mErr != nil {
			log.Error().Err(mErr).Int64("user_id", userID).Msg("dispatch: mark outcome")
		}
		return
	case !fresh.Enabled:
		log.Info().Int64("user_id", userID).Str("date", localDate).Msg("user disabled after trigger, skipping dispatch")
		if mErr := store.MarkOutcome(userID, localDate, domain.FireSkippedDisabled); mErr != nil {
			log.Error().Err(mErr).Int64("user_id", userID).Msg("dispatch: mark outcome")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	out := disp.Dispatch(ctx, userID, localDate)
	cancel()

	if err := store.MarkOutcome(userID, localDate, out.FireStatus()); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Str("date", localDate).Msg("dispatch: mark outcome")
	}
	if out.Kind == domain.OutcomeDeliveryFailed {
		log.Warn().Int64("user_id", userID).Str("date", localDate).Str("reason", out.Reason).
			Msg("delivery failed, will try again tomorrow")
	}
}

// statusSnapshot builds the per-user summary shared by both backends.
func statusSnapshot(store *storage.Storage, now time.Time) ([]UserStatus, error) {
	configs, err := store.ListEnabledConfigs()
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}

	statuses := make([]UserStatus, 0, len(configs))
	for _, c := range configs {
		st := UserStatus{UserID: c.UserID, Time: c.Time, Timezone: c.Timezone}
		if next, err := domain.ResolveNext(c.Time, c.Timezone, now); err == nil {
			st.NextTrigger = next
		}
		if rec, err := store.LastFireRecord(c.UserID); err == nil {
			st.LastDate = rec.LocalDate
			st.LastStatus = rec.Status
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("last fire record: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
