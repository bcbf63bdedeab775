package caldav

import "time"

// Calendar is one calendar discovered on the server.
type Calendar struct {
	ID          string // calendar path/URL
	DisplayName string
}

// rawEvent is a decoded VEVENT before it is mapped to a domain event.
type rawEvent struct {
	UID         string
	Summary     string
	Category    string
	Description string
	Start       time.Time
}
