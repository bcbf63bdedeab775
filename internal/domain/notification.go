package domain

import "time"

// NotificationConfig holds one user's daily notification settings.
// Created on first /start with defaults, mutated only by explicit
// user commands, never deleted — only disabled.
type NotificationConfig struct {
	UserID    int64
	Time      TimeOfDay
	Timezone  string // IANA name, e.g. "Asia/Almaty"
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects configuration input errors before they are stored.
func (c *NotificationConfig) Validate() error {
	if !c.Time.Valid() {
		return ErrInvalidTimeOfDay
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		return ErrInvalidTimezone
	}
	return nil
}

type FireStatus string

const (
	FirePending         FireStatus = "pending"
	FireSent            FireStatus = "sent"
	FireFailed          FireStatus = "failed"
	FireSkippedNoEvents FireStatus = "skipped_no_events"
	FireSkippedDisabled FireStatus = "skipped_disabled"
)

// FireRecord is the per-user-per-day idempotency ledger entry.
// At most one record per (user, local date) can exist; it is terminal
// once the status leaves pending.
type FireRecord struct {
	UserID    int64
	LocalDate string // "2006-01-02" in the user's timezone
	Status    FireStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is one client event for a given day, as returned by the event source.
type Event struct {
	Name     string
	Category string // "день рождения", "годовщина", ...
	Detail   string
}

type OutcomeKind int

const (
	OutcomeSent OutcomeKind = iota
	OutcomeNoEvents
	OutcomeDeliveryFailed
)

// Outcome is the dispatcher's per-attempt result.
type Outcome struct {
	Kind   OutcomeKind
	Reason string // set for OutcomeDeliveryFailed
}

func Sent() Outcome { return Outcome{Kind: OutcomeSent} }

func NoEvents() Outcome { return Outcome{Kind: OutcomeNoEvents} }

func DeliveryFailed(reason string) Outcome {
	return Outcome{Kind: OutcomeDeliveryFailed, Reason: reason}
}

// FireStatus maps a dispatch outcome onto the ledger status.
func (o Outcome) FireStatus() FireStatus {
	switch o.Kind {
	case OutcomeSent:
		return FireSent
	case OutcomeNoEvents:
		return FireSkippedNoEvents
	default:
		return FireFailed
	}
}
