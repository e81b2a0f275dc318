package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetinvoice/internal/logging"
	"meetinvoice/internal/meetingid"
	"meetinvoice/internal/models"
)

var base = time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

func newMatcher() *Matcher {
	return New(logging.Discard(), 15*time.Minute, time.UTC)
}

func customers() []*models.Customer {
	return []*models.Customer{
		{ID: "cus_ALICE", Email: "alice@company1.com", Name: "Alice Smith"},
		{ID: "cus_BOB", Email: "bob@company2.com", Name: "Bob Johnson"},
	}
}

func event(title string, start time.Time, d time.Duration, organizer string, attendees ...string) *models.Event {
	return &models.Event{
		ID:        title + start.String(),
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(d),
		Organizer: organizer,
		Attendees: attendees,
	}
}

func TestMatch_SingleAttendee(t *testing.T) {
	got := newMatcher().Match([]*models.Event{
		event("Strategy Session", base, time.Hour, "me@example.com", "alice@company1.com"),
	}, customers())

	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, "cus_ALICE", m.Customer.ID)
	assert.Equal(t, "Strategy Session", m.Title)
	assert.Equal(t, time.Hour, m.Duration)
	assert.Equal(t, models.StatusNotInvoiced, m.Status)
	assert.Equal(t, meetingid.Derive("cus_ALICE", base, "Strategy Session"), m.ID)
}

func TestMatch_SharedEventProducesOneMeetingPerCustomer(t *testing.T) {
	got := newMatcher().Match([]*models.Event{
		event("Joint Review", base, time.Hour, "me@example.com", "alice@company1.com", "bob@company2.com"),
	}, customers())

	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].Customer.ID, got[1].Customer.ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestMatch_OrganizerOnly(t *testing.T) {
	got := newMatcher().Match([]*models.Event{
		event("Kickoff", base, time.Hour, "Bob@Company2.com"),
	}, customers())

	require.Len(t, got, 1)
	assert.Equal(t, "cus_BOB", got[0].Customer.ID)
}

func TestMatch_CaseInsensitiveAndNoDoubleCount(t *testing.T) {
	got := newMatcher().Match([]*models.Event{
		event("Sync", base, time.Hour, "ALICE@company1.com", "alice@COMPANY1.com"),
	}, customers())

	require.Len(t, got, 1)
}

func TestMatch_DropsUnmatchedAndAllDay(t *testing.T) {
	allDay := event("Offsite", base, 24*time.Hour, "", "alice@company1.com")
	allDay.AllDay = true

	got := newMatcher().Match([]*models.Event{
		event("Internal", base, time.Hour, "me@example.com", "colleague@example.com"),
		allDay,
	}, customers())

	assert.Empty(t, got)
}

func TestMatch_ClampsShortDurations(t *testing.T) {
	got := newMatcher().Match([]*models.Event{
		event("Zero", base, 0, "", "alice@company1.com"),
		event("Negative", base.Add(time.Hour), -time.Hour, "", "alice@company1.com"),
		event("Short", base.Add(2*time.Hour), 5*time.Minute, "", "alice@company1.com"),
	}, customers())

	require.Len(t, got, 3)
	for _, m := range got {
		assert.Equal(t, 15*time.Minute, m.Duration, m.Title)
		assert.True(t, m.DurationClamped, m.Title)
	}
}

func TestMatch_DeduplicatesSameEventFromTwoCalendars(t *testing.T) {
	a := event("Review", base, time.Hour, "", "alice@company1.com")
	a.UID = "uid-1"
	b := event("Review", base, time.Hour, "", "alice@company1.com")
	b.UID = "uid-1"
	b.ID = "other-calendar-id"

	got := newMatcher().Match([]*models.Event{a, b}, customers())
	assert.Len(t, got, 1)
}

func TestMatch_OrderedByCustomerThenStart(t *testing.T) {
	got := newMatcher().Match([]*models.Event{
		event("Bob late", base.Add(2*time.Hour), time.Hour, "", "bob@company2.com"),
		event("Alice late", base.Add(time.Hour), time.Hour, "", "alice@company1.com"),
		event("Alice early", base, time.Hour, "", "alice@company1.com"),
	}, customers())

	require.Len(t, got, 3)
	assert.Equal(t, []string{"Alice early", "Alice late", "Bob late"},
		[]string{got[0].Title, got[1].Title, got[2].Title})
}

func TestMatch_SkipsCustomersWithoutEmail(t *testing.T) {
	cs := []*models.Customer{{ID: "cus_NOEMAIL", Name: "Ghost"}}
	got := newMatcher().Match([]*models.Event{
		event("Call", base, time.Hour, "", ""),
	}, cs)
	assert.Empty(t, got)
}

func TestMatch_IdentifierStableAcrossRuns(t *testing.T) {
	events := []*models.Event{event("Strategy Session", base, time.Hour, "", "alice@company1.com")}
	first := newMatcher().Match(events, customers())
	second := newMatcher().Match(events, customers())

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestMatch_EmptyTitleDefaults(t *testing.T) {
	got := newMatcher().Match([]*models.Event{
		event("", base, time.Hour, "", "alice@company1.com"),
	}, customers())
	require.Len(t, got, 1)
	assert.Equal(t, "Meeting", got[0].Title)
}

func TestMatch_SharedEmailKeepsLastCustomer(t *testing.T) {
	dupes := []*models.Customer{
		{ID: "cus_OLD", Email: "alice@company1.com", Name: "Alice (old)"},
		{ID: "cus_NEW", Email: "Alice@Company1.com", Name: "Alice"},
	}
	got := newMatcher().Match([]*models.Event{
		event("Review", base, time.Hour, "", "alice@company1.com"),
	}, dupes)

	require.Len(t, got, 1)
	assert.Equal(t, "cus_NEW", got[0].Customer.ID)
}
