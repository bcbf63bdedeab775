package scheduler

import (
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eventgreen/notifybot/config"
	"github.com/eventgreen/notifybot/internal/domain"
	"github.com/eventgreen/notifybot/internal/storage"
)

func newProjector(t *testing.T, store *storage.Storage, disp Dispatcher) *CronProjector {
	t.Helper()
	return NewCronProjector(testConfig(config.BackendCron), store, disp, zerolog.New(io.Discard))
}

func TestProjectorMatchesOnlyConfiguredMinute(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertConfig(almatyConfig(1))) // 14:30 Asia/Almaty
	require.NoError(t, store.UpsertConfig(&domain.NotificationConfig{
		UserID: 2, Time: domain.TimeOfDay{Hour: 9, Minute: 0}, Timezone: "Europe/Berlin", Enabled: true,
	}))

	disp := newCaptureDispatcher(nil)
	p := newProjector(t, store, disp)

	// 14:30 in Almaty is not 09:00 in Berlin, so only user 1 matches
	p.RunOnce(almatyTrigger(t, 10, 0))

	require.Equal(t, 1, disp.callCount())
	require.Equal(t, dispatchCall{userID: 1, localDate: "2025-06-10"}, disp.calls[0])

	rec, err := store.LastFireRecord(1)
	require.NoError(t, err)
	require.Equal(t, domain.FireSent, rec.Status)

	_, err = store.LastFireRecord(2)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProjectorDuplicateInvocationAbsorbed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertConfig(almatyConfig(1)))

	disp := newCaptureDispatcher(nil)
	p := newProjector(t, store, disp)

	now := almatyTrigger(t, 10, 0)
	p.RunOnce(now)
	p.RunOnce(now.Add(20 * time.Second)) // second trigger inside the same minute

	require.Equal(t, 1, disp.callCount(), "duplicate invocation must not dispatch twice")
}

func TestProjectorSkipsDisabledUsers(t *testing.T) {
	store := newTestStore(t)
	cfg := almatyConfig(1)
	cfg.Enabled = false
	require.NoError(t, store.UpsertConfig(cfg))

	disp := newCaptureDispatcher(nil)
	p := newProjector(t, store, disp)

	p.RunOnce(almatyTrigger(t, 10, 0))
	require.Equal(t, 0, disp.callCount())
}

func TestProjectorNonMatchingMinuteIsLost(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertConfig(almatyConfig(1)))

	disp := newCaptureDispatcher(nil)
	p := newProjector(t, store, disp)

	// the external trigger skipped the matching minute; nothing is
	// compensated
	p.RunOnce(almatyTrigger(t, 10, 2*time.Minute))
	require.Equal(t, 0, disp.callCount())
}

// Thirty simulated days with duplicated invocations and random
// "restarts" (fresh projector instances over the same store): every
// user must end up with at most one completed fire per local date.
func TestProjectorThirtyDaysNoDuplicates(t *testing.T) {
	store := newTestStore(t)
	users := []int64{1, 2, 3}
	for _, id := range users {
		require.NoError(t, store.UpsertConfig(almatyConfig(id)))
	}

	rng := rand.New(rand.NewSource(1))
	disp := newCaptureDispatcher(nil)
	p := newProjector(t, store, disp)

	for day := 1; day <= 30; day++ {
		if rng.Intn(3) == 0 {
			// restart: projector state is rebuilt, the ledger is not
			p = newProjector(t, store, disp)
		}
		now := almatyTrigger(t, day, 0)
		for i := 0; i < 1+rng.Intn(3); i++ {
			p.RunOnce(now.Add(time.Duration(i*10) * time.Second))
		}
	}

	perUserDate := make(map[dispatchCall]int)
	disp.mu.Lock()
	for _, call := range disp.calls {
		perUserDate[call]++
	}
	disp.mu.Unlock()

	require.Len(t, perUserDate, 30*len(users))
	for call, n := range perUserDate {
		require.Equal(t, 1, n, "duplicate dispatch for %+v", call)
	}
}

func TestProjectorStatus(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertConfig(almatyConfig(1)))

	disp := newCaptureDispatcher(nil)
	p := newProjector(t, store, disp)
	p.nowFn = func() time.Time { return almatyTrigger(t, 10, -time.Hour) }

	p.RunOnce(almatyTrigger(t, 9, 0))

	statuses, err := p.Status()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, int64(1), statuses[0].UserID)
	require.Equal(t, almatyTrigger(t, 10, 0), statuses[0].NextTrigger)
	require.Equal(t, "2025-06-09", statuses[0].LastDate)
	require.Equal(t, domain.FireSent, statuses[0].LastStatus)
}
