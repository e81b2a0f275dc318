// Package matcher joins calendar events to billing customers by participant email.
package matcher

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"meetinvoice/internal/logging"
	"meetinvoice/internal/meetingid"
	"meetinvoice/internal/models"
)

// DefaultMinDuration is used when no minimum duration is configured.
const DefaultMinDuration = 15 * time.Minute

// Matcher turns calendar events into candidate meetings.
type Matcher struct {
	logger      *slog.Logger
	minDuration time.Duration
	location    *time.Location
}

// New creates a Matcher. Durations below minDuration are raised to it, and
// meeting dates are taken in loc.
func New(logger *slog.Logger, minDuration time.Duration, loc *time.Location) *Matcher {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{logger: logger, minDuration: minDuration, location: loc}
}

// Match returns one meeting per (event, matched customer) pair, ordered by
// customer name and start time. Events without a matching participant are dropped.
func (m *Matcher) Match(events []*models.Event, customers []*models.Customer) []*models.Meeting {
	byEmail := make(map[string]*models.Customer, len(customers))
	for _, c := range customers {
		email := normalizeEmail(c.Email)
		if email == "" {
			m.logger.Warn("Customer has no email, it cannot be matched", logging.Customer(c.ID))
			continue
		}
		if prev, dup := byEmail[email]; dup {
			m.logger.Warn("Several customers share an email, keeping the last one listed",
				"email", email, "kept", c.ID, "ignored", prev.ID)
		}
		byEmail[email] = c
	}

	var meetings []*models.Meeting
	seen := make(map[string]bool)
	allDay, unmatched := 0, 0

	for _, event := range events {
		if event.AllDay {
			allDay++
			m.logger.Debug("Skipping all-day event", "title", event.Title)
			continue
		}
		key := event.DedupKey()
		if seen[key] {
			m.logger.Debug("Skipping duplicate event", "title", event.Title, "start", event.StartTime)
			continue
		}
		seen[key] = true

		matched := matchCustomers(event, byEmail)
		if len(matched) == 0 {
			unmatched++
			continue
		}

		duration, clamped := m.duration(event)
		start := event.StartTime.In(m.location)
		title := titleOrDefault(event.Title)
		for _, c := range matched {
			meetings = append(meetings, &models.Meeting{
				ID:              meetingid.Derive(c.ID, start, title),
				Customer:        c,
				Title:           title,
				Start:           start,
				Duration:        duration,
				DurationClamped: clamped,
				Status:          models.StatusNotInvoiced,
			})
		}
	}

	sort.SliceStable(meetings, func(i, j int) bool {
		a, b := meetings[i], meetings[j]
		if a.Customer.DisplayName() != b.Customer.DisplayName() {
			return a.Customer.DisplayName() < b.Customer.DisplayName()
		}
		if a.Customer.ID != b.Customer.ID {
			return a.Customer.ID < b.Customer.ID
		}
		return a.Start.Before(b.Start)
	})

	m.logger.Info("Matched calendar events to customers",
		"events", len(events), "meetings", len(meetings), "all_day", allDay, "unmatched", unmatched)
	return meetings
}

func (m *Matcher) duration(event *models.Event) (time.Duration, bool) {
	d := event.EndTime.Sub(event.StartTime)
	if d >= m.minDuration {
		return d, false
	}
	m.logger.Warn("Event duration below minimum, clamping",
		"title", event.Title, "start", event.StartTime, "duration", d, "minimum", m.minDuration)
	return m.minDuration, true
}

// matchCustomers returns the distinct customers among the event participants,
// in participant order.
func matchCustomers(event *models.Event, byEmail map[string]*models.Customer) []*models.Customer {
	var out []*models.Customer
	seen := make(map[string]bool)
	for _, p := range event.Participants() {
		c, ok := byEmail[normalizeEmail(p)]
		if !ok || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func titleOrDefault(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Meeting"
	}
	return title
}
