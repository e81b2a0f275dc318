package icloud

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetinvoice/internal/logging"
	"meetinvoice/internal/models"
)

const testCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//meetinvoice//test//EN
BEGIN:VEVENT
UID:single-1
DTSTAMP:20250101T000000Z
DTSTART:20250115T140000Z
DTEND:20250115T150000Z
SUMMARY:Strategy Session
ORGANIZER;CN=Me:mailto:me@example.com
ATTENDEE;CN=Alice:MAILTO:Alice@Example.com
ATTENDEE;CUTYPE=ROOM:mailto:board-room@example.com
END:VEVENT
BEGIN:VEVENT
UID:allday-1
DTSTAMP:20250101T000000Z
DTSTART;VALUE=DATE:20250116
DTEND;VALUE=DATE:20250117
SUMMARY:Offsite
END:VEVENT
BEGIN:VEVENT
UID:cancelled-1
DTSTAMP:20250101T000000Z
DTSTART:20250114T100000Z
DTEND:20250114T110000Z
STATUS:CANCELLED
SUMMARY:Cancelled call
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20250101T000000Z
DTSTART:20250106T090000Z
DTEND:20250106T093000Z
RRULE:FREQ=WEEKLY;COUNT=4
SUMMARY:Weekly sync
ATTENDEE:mailto:bob@example.com
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20250101T000000Z
RECURRENCE-ID:20250120T090000Z
DTSTART:20250120T100000Z
DTEND:20250120T103000Z
SUMMARY:Weekly sync (moved)
ATTENDEE:mailto:bob@example.com
END:VEVENT
BEGIN:VEVENT
UID:old-1
DTSTAMP:20250101T000000Z
DTSTART:20241201T090000Z
DTEND:20241201T100000Z
SUMMARY:Last month
END:VEVENT
END:VCALENDAR
`

func decodeCalendar(t *testing.T, text string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(strings.ReplaceAll(text, "\n", "\r\n"))).Decode()
	require.NoError(t, err)
	return cal
}

func testWindow() (time.Time, time.Time) {
	return time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC)
}

func TestConverter_Events(t *testing.T) {
	conv := &converter{logger: logging.Discard(), location: time.UTC, source: "ics"}
	from, to := testWindow()

	events := conv.events(decodeCalendar(t, testCalendar), from, to)
	require.Len(t, events, 4)

	single := events[0]
	assert.Equal(t, "single-1", single.UID)
	assert.Equal(t, "Strategy Session", single.Title)
	assert.Equal(t, time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC), single.StartTime.UTC())
	assert.Equal(t, time.Hour, single.EndTime.Sub(single.StartTime))
	assert.Equal(t, "me@example.com", single.Organizer)
	assert.Equal(t, []string{"Alice@Example.com"}, single.Attendees)
	assert.Equal(t, "ics", single.Source)
	assert.False(t, single.AllDay)

	assert.Equal(t, "allday-1", events[1].UID)
	assert.True(t, events[1].AllDay)

	occurrence := events[2]
	assert.Equal(t, "weekly-1", occurrence.UID)
	assert.Equal(t, "weekly-1_20250113T090000Z", occurrence.ID)
	assert.Equal(t, time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC), occurrence.StartTime.UTC())
	assert.Equal(t, 30*time.Minute, occurrence.EndTime.Sub(occurrence.StartTime))
	assert.Equal(t, []string{"bob@example.com"}, occurrence.Attendees)

	moved := events[3]
	assert.Equal(t, "Weekly sync (moved)", moved.Title)
	assert.Equal(t, time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC), moved.StartTime.UTC())
}

func TestConverter_FloatingTimesUseLocation(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	conv := &converter{logger: logging.Discard(), location: loc}
	cal := decodeCalendar(t, `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//meetinvoice//test//EN
BEGIN:VEVENT
UID:floating-1
DTSTAMP:20250101T000000Z
DTSTART:20250115T090000
DTEND:20250115T100000
SUMMARY:Floating
END:VEVENT
END:VCALENDAR
`)
	from, to := testWindow()

	events := conv.events(cal, from, to)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC), events[0].StartTime.UTC())
}

func TestCalendarAddress(t *testing.T) {
	assert.Equal(t, "a@example.com", calendarAddress("mailto:a@example.com"))
	assert.Equal(t, "a@example.com", calendarAddress("MAILTO:a@example.com"))
	assert.Equal(t, "a@example.com", calendarAddress(" a@example.com "))
	assert.Equal(t, "", calendarAddress(""))
}

func TestOverlaps(t *testing.T) {
	from, to := testWindow()
	at := func(d int, h int) time.Time { return time.Date(2025, 1, d, h, 0, 0, 0, time.UTC) }

	assert.True(t, overlaps(&models.Event{StartTime: at(9, 23), EndTime: at(10, 1)}, from, to))
	assert.False(t, overlaps(&models.Event{StartTime: at(9, 22), EndTime: at(9, 23)}, from, to))
	assert.False(t, overlaps(&models.Event{StartTime: at(25, 0), EndTime: at(25, 1)}, from, to))
	assert.True(t, overlaps(&models.Event{StartTime: at(12, 9), EndTime: at(12, 9)}, from, to))
}
