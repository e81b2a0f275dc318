package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"meetinvoice/internal/models"
)

const userAgent = "meetinvoice/1.0"

// userAgentTransport sets the User-Agent iCloud expects on every request.
type userAgentTransport struct {
	Transport http.RoundTripper
}

// RoundTrip adds the User-Agent header to each request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.Transport.RoundTrip(req)
}

// CalDAVClient reads events from one calendar on a CalDAV server.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
	location     *time.Location
}

// NewClient connects to endpoint with basic authentication and resolves the
// calendar called calendarName. Floating times are read in loc.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string, loc *time.Location) (*CalDAVClient, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{
		Transport: &userAgentTransport{Transport: http.DefaultTransport},
	}, username, password)

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		logger:       logger.With("endpoint", endpoint),
		location:     loc,
	}

	c.logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	c.logger.Info("Found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// ListEvents fetches the events overlapping [timeMin, timeMax). Recurring
// events are expanded locally into single occurrences.
func (c *CalDAVClient) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]*models.Event, error) {
	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, eventQuery(timeMin, timeMax))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", c.calendarPath, err)
	}

	conv := &converter{
		logger:   c.logger,
		location: c.location,
		source:   "caldav-" + c.calendarPath,
	}
	var events []*models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events = append(events, conv.events(obj.Data, timeMin, timeMax)...)
	}
	c.logger.Info("Fetched events from CalDAV", "count", len(events), "objects", len(objects))
	return events, nil
}

func eventQuery(timeMin, timeMax time.Time) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: timeMin.UTC(),
				End:   timeMax.UTC(),
			}},
		},
	}
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
