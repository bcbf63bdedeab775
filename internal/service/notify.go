package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eventgreen/notifybot/internal/domain"
)

// EventSource returns the client events falling on a user's local date.
// An empty day is an empty slice, never an error; errors mean transport
// failure.
type EventSource interface {
	EventsFor(ctx context.Context, userID int64, localDate string) ([]domain.Event, error)
}

type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// NotificationService turns an acquired fire attempt into a delivered
// daily digest. All collaborator errors are absorbed here and reported
// as an outcome; nothing propagates back into scheduler control flow.
type NotificationService struct {
	events EventSource
	sender MessageSender
	log    zerolog.Logger
}

func NewNotificationService(events EventSource, sender MessageSender, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		events: events,
		sender: sender,
		log:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch queries today's events for the user and sends the digest.
// The context deadline bounds both the event-source query and the send;
// exceeding it is reported as a delivery failure, not retried.
func (s *NotificationService) Dispatch(ctx context.Context, userID int64, localDate string) domain.Outcome {
	events, err := s.events.EventsFor(ctx, userID, localDate)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn().Int64("user_id", userID).Str("date", localDate).Msg("event source timed out")
			return domain.DeliveryFailed("timeout")
		}
		s.log.Error().Err(err).Int64("user_id", userID).Str("date", localDate).Msg("event source failed")
		return domain.DeliveryFailed(fmt.Sprintf("event source: %v", err))
	}

	if len(events) == 0 {
		s.log.Info().Int64("user_id", userID).Str("date", localDate).Msg("no events today")
		return domain.NoEvents()
	}

	text := FormatDigest(localDate, events)

	// the sender has no context of its own, so bound it from outside
	done := make(chan error, 1)
	go func() { done <- s.sender.SendMessage(userID, text) }()

	select {
	case err := <-done:
		if err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Str("date", localDate).Msg("delivery failed")
			return domain.DeliveryFailed(err.Error())
		}
	case <-ctx.Done():
		s.log.Warn().Int64("user_id", userID).Str("date", localDate).Msg("delivery timed out")
		return domain.DeliveryFailed("timeout")
	}

	s.log.Info().Int64("user_id", userID).Str("date", localDate).Int("events", len(events)).Msg("digest sent")
	return domain.Sent()
}
