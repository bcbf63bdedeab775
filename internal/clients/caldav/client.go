package caldav

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/eventgreen/notifybot/internal/domain"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"
)

// Client reads client events (birthdays, anniversaries) from a CalDAV
// calendar. One calendar backs the whole deployment: the bot serves a
// single CRM account with all contact dates in one place.
type Client struct {
	baseURL    string
	username   string
	password   string
	calendarID string
	client     *caldav.Client
}

func NewClient(baseURL, username, password, calendarID string) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		calendarID: calendarID,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// connect establishes connection to the CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the account, for picking
// CALDAV_CALENDAR_ID during setup.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{ID: cal.Path, DisplayName: cal.Name})
	}
	return result, nil
}

// EventsFor returns the events whose calendar date equals localDate.
// It implements the dispatcher's event source contract: an empty day is
// an empty slice, errors mean transport failure.
func (c *Client) EventsFor(ctx context.Context, _ int64, localDate string) ([]domain.Event, error) {
	day, err := time.Parse("2006-01-02", localDate)
	if err != nil {
		return nil, fmt.Errorf("parse local date: %w", err)
	}

	// pad the query by a day on each side; zone-shifted DTSTART values
	// are filtered by calendar date below
	raw, err := c.queryEvents(ctx, day.Add(-24*time.Hour), day.Add(48*time.Hour))
	if err != nil {
		return nil, err
	}

	var events []domain.Event
	for _, e := range raw {
		if e.Start.Format("2006-01-02") != localDate {
			continue
		}
		events = append(events, domain.Event{
			Name:     e.Summary,
			Category: e.Category,
			Detail:   e.Description,
		})
	}
	return events, nil
}

func (c *Client) queryEvents(ctx context.Context, from, to time.Time) ([]rawEvent, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	if c.calendarID == "" {
		return nil, fmt.Errorf("calendar path not specified")
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, c.calendarID, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var events []rawEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events = append(events, decodeEvents(obj.Data)...)
	}
	return events, nil
}

// decodeEvents extracts the VEVENT components of one calendar object.
func decodeEvents(cal *ical.Calendar) []rawEvent {
	var events []rawEvent
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		var e rawEvent
		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			e.UID = prop.Value
		}
		if prop := comp.Props.Get(ical.PropSummary); prop != nil {
			e.Summary = prop.Value
		}
		if prop := comp.Props.Get(ical.PropDescription); prop != nil {
			e.Description = prop.Value
		}
		if prop := comp.Props.Get(ical.PropCategories); prop != nil {
			if cats, err := prop.TextList(); err == nil && len(cats) > 0 {
				e.Category = cats[0]
			}
		}
		if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
			if start, err := prop.DateTime(time.UTC); err == nil {
				e.Start = start
			}
		}
		if e.Start.IsZero() {
			continue // event without a usable date
		}
		events = append(events, e)
	}
	return events
}
