package models

import "time"

// Event represents a standard calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID        string    // Identifier assigned by the source calendar
	UID       string    // The iCalendar UID, shared by copies of the same event across calendars
	Title     string    // Summary or title of the event
	StartTime time.Time // Start time of the event
	EndTime   time.Time // End time of the event
	AllDay    bool      // Date-only event without a time of day
	Organizer string    // Organizer's email
	Attendees []string  // List of attendee emails
	Source    string    // The source of the event (e.g., "google-primary")
}

// Participants returns the organizer and attendee emails.
func (e *Event) Participants() []string {
	out := make([]string, 0, len(e.Attendees)+1)
	out = append(out, e.Attendees...)
	if e.Organizer != "" {
		out = append(out, e.Organizer)
	}
	return out
}

// DedupKey identifies an occurrence of an event regardless of which calendar it was read from.
func (e *Event) DedupKey() string {
	id := e.UID
	if id == "" {
		id = e.ID
	}
	if id == "" {
		id = e.Title
	}
	return id + "|" + e.StartTime.UTC().Format(time.RFC3339)
}
