package icloud

import (
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"meetinvoice/internal/models"
)

// converter turns decoded iCalendar objects into internal events.
type converter struct {
	logger   *slog.Logger
	location *time.Location
	source   string
}

// events returns the events of cal that overlap [from, to). Masters with an
// RRULE are expanded; occurrences replaced by a RECURRENCE-ID override are
// left to the override.
func (c *converter) events(cal *ical.Calendar, from, to time.Time) []*models.Event {
	vevents := cal.Events()

	overridden := make(map[string]bool)
	for _, ve := range vevents {
		prop := ve.Props.Get(ical.PropRecurrenceID)
		if prop == nil {
			continue
		}
		if t, err := prop.DateTime(c.location); err == nil {
			overridden[occurrenceKey(uid(ve.Component), t)] = true
		}
	}

	var out []*models.Event
	for _, ve := range vevents {
		base, ok := c.parse(ve)
		if !ok {
			continue
		}

		set, err := ve.RecurrenceSet(c.location)
		if err != nil {
			c.logger.Warn("Ignoring unreadable recurrence rule", "title", base.Title, "error", err)
		}
		if set == nil || ve.Props.Get(ical.PropRecurrenceID) != nil {
			if overlaps(base, from, to) {
				out = append(out, base)
			}
			continue
		}

		length := base.EndTime.Sub(base.StartTime)
		for _, start := range set.Between(from.Add(-length), to, true) {
			if overridden[occurrenceKey(base.UID, start)] {
				continue
			}
			occ := *base
			occ.ID = base.ID + "_" + start.UTC().Format("20060102T150405Z")
			occ.StartTime = start
			occ.EndTime = start.Add(length)
			if overlaps(&occ, from, to) {
				out = append(out, &occ)
			}
		}
	}
	return out
}

// parse reads the fields of one VEVENT. Cancelled events and events without a
// readable start are skipped.
func (c *converter) parse(ve ical.Event) (*models.Event, bool) {
	title, _ := ve.Props.Text(ical.PropSummary)

	if status := ve.Props.Get(ical.PropStatus); status != nil && strings.EqualFold(status.Value, "CANCELLED") {
		c.logger.Debug("Skipping cancelled event", "title", title)
		return nil, false
	}

	startProp := ve.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		c.logger.Debug("Skipping event without start", "title", title)
		return nil, false
	}
	start, err := ve.DateTimeStart(c.location)
	if err != nil {
		c.logger.Warn("Skipping event with unparseable start", "title", title, "start", startProp.Value, "error", err)
		return nil, false
	}
	end, err := ve.DateTimeEnd(c.location)
	if err != nil || end.Before(start) {
		c.logger.Warn("Event has unusable end, treating it as zero length", "title", title)
		end = start
	}
	if end.IsZero() {
		end = start
	}

	id := uid(ve.Component)
	event := &models.Event{
		ID:        id,
		UID:       id,
		Title:     title,
		StartTime: start,
		EndTime:   end,
		AllDay:    startProp.ValueType() == ical.ValueDate,
		Source:    c.source,
	}

	if org := ve.Props.Get(ical.PropOrganizer); org != nil {
		event.Organizer = calendarAddress(org.Value)
	}
	for _, att := range ve.Props.Values(ical.PropAttendee) {
		switch strings.ToUpper(att.Params.Get(ical.ParamCalendarUserType)) {
		case "ROOM", "RESOURCE":
			continue
		}
		if email := calendarAddress(att.Value); email != "" {
			event.Attendees = append(event.Attendees, email)
		}
	}
	return event, true
}

func uid(comp *ical.Component) string {
	if p := comp.Props.Get(ical.PropUID); p != nil {
		return p.Value
	}
	return ""
}

func occurrenceKey(uid string, start time.Time) string {
	return uid + "|" + start.UTC().Format(time.RFC3339)
}

// calendarAddress strips the mailto: scheme from a CAL-ADDRESS value.
func calendarAddress(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= len("mailto:") && strings.EqualFold(v[:len("mailto:")], "mailto:") {
		v = v[len("mailto:"):]
	}
	return v
}

func overlaps(e *models.Event, from, to time.Time) bool {
	if e.EndTime.Equal(e.StartTime) {
		return !e.StartTime.Before(from) && e.StartTime.Before(to)
	}
	return e.StartTime.Before(to) && e.EndTime.After(from)
}
