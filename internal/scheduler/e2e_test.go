package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eventgreen/notifybot/config"
	"github.com/eventgreen/notifybot/internal/domain"
	"github.com/eventgreen/notifybot/internal/service"
)

type stubEventSource struct {
	events []domain.Event
}

func (s stubEventSource) EventsFor(_ context.Context, _ int64, _ string) ([]domain.Event, error) {
	return s.events, nil
}

type stubSender struct {
	mu    sync.Mutex
	chats []int64
	msgs  []string
	sent  chan struct{}
}

func (s *stubSender) SendMessage(chatID int64, text string) error {
	s.mu.Lock()
	s.chats = append(s.chats, chatID)
	s.msgs = append(s.msgs, text)
	s.mu.Unlock()
	select {
	case s.sent <- struct{}{}:
	default:
	}
	return nil
}

// Full path: user configured 14:30 Asia/Almaty, the timer fires once,
// the dispatcher pulls one birthday event and delivers exactly one
// formatted message, the ledger reads sent, and a racing duplicate
// trigger is absorbed without a second delivery.
func TestEndToEndDailyDigest(t *testing.T) {
	store := newTestStore(t)
	cfg := almatyConfig(99)
	require.NoError(t, store.UpsertConfig(cfg))

	clock := &fakeClock{now: almatyTrigger(t, 10, -50*time.Millisecond)}
	source := stubEventSource{events: []domain.Event{
		{Name: "Анна Иванова", Category: "день рождения", Detail: "+7 777 123 45 67"},
	}}
	sender := &stubSender{sent: make(chan struct{}, 1)}
	svc := service.NewNotificationService(source, sender, zerolog.New(io.Discard))

	ts := NewTimerScheduler(testConfig(config.BackendTimer), store, svc, zerolog.New(io.Discard))
	ts.nowFn = clock.Now
	t.Cleanup(ts.Stop)

	ts.OnConfigChanged(cfg)

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("digest was not delivered")
	}
	clock.Advance(2 * time.Minute)

	rec, err := store.LastFireRecord(99)
	require.NoError(t, err)
	require.Equal(t, "2025-06-10", rec.LocalDate)
	require.Equal(t, domain.FireSent, rec.Status)

	// a second fire attempt at the same instant loses the race
	acquired, err := store.RecordFireAttempt(99, "2025-06-10")
	require.NoError(t, err)
	require.False(t, acquired)

	time.Sleep(300 * time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, []int64{99}, sender.chats, "exactly one delivery")
	require.Len(t, sender.msgs, 1)
	require.Contains(t, sender.msgs[0], "Анна Иванова")
	require.Contains(t, sender.msgs[0], "С днём рождения")
	require.Contains(t, sender.msgs[0], "10.06.2025")
}
