package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMeetingLocked is returned when selecting a meeting that already has an invoice.
var ErrMeetingLocked = errors.New("meeting already invoiced")

// InvoiceStatus is the billing state of a meeting, derived from remote invoices on every run.
type InvoiceStatus string

const (
	StatusNotInvoiced InvoiceStatus = "not_invoiced"
	StatusDrafted     InvoiceStatus = "drafted"
	StatusSent        InvoiceStatus = "sent"
)

// Rank orders statuses by how far the billing has progressed.
func (s InvoiceStatus) Rank() int {
	switch s {
	case StatusSent:
		return 2
	case StatusDrafted:
		return 1
	default:
		return 0
	}
}

// Label is the operator-facing name of the status.
func (s InvoiceStatus) Label() string {
	switch s {
	case StatusSent:
		return "Invoice sent"
	case StatusDrafted:
		return "Draft created"
	default:
		return "Not invoiced"
	}
}

// Meeting is a billable calendar event attributed to a single customer.
// Meetings live only for the duration of a session.
type Meeting struct {
	ID       string
	Customer *Customer
	Title    string
	Start    time.Time
	Duration time.Duration

	// DurationClamped is set when the event duration was raised to the configured minimum.
	DurationClamped bool

	EditedStart  *time.Time
	EditedHours  *decimal.Decimal
	RateOverride *decimal.Decimal
	Synopsis     string

	Status   InvoiceStatus
	Selected bool
}

// BillableStart returns the start time shown on the invoice.
func (m *Meeting) BillableStart() time.Time {
	if m.EditedStart != nil {
		return *m.EditedStart
	}
	return m.Start
}

// Hours returns the billable duration in hours, rounded to hundredths unless edited.
func (m *Meeting) Hours() decimal.Decimal {
	if m.EditedHours != nil {
		return *m.EditedHours
	}
	minutes := decimal.NewFromInt(int64(m.Duration / time.Minute))
	seconds := decimal.NewFromInt(int64((m.Duration % time.Minute) / time.Second))
	return minutes.Add(seconds.Div(decimal.NewFromInt(60))).Div(decimal.NewFromInt(60)).Round(2)
}

// IsEdited reports whether the operator changed the start time or duration.
func (m *Meeting) IsEdited() bool {
	return m.EditedStart != nil || m.EditedHours != nil
}

// Locked reports whether the meeting can no longer be selected.
func (m *Meeting) Locked() bool {
	return m.Status != StatusNotInvoiced && m.Status != ""
}

// Toggle flips the selection of an unlocked meeting.
func (m *Meeting) Toggle() error {
	if m.Locked() {
		return ErrMeetingLocked
	}
	m.Selected = !m.Selected
	return nil
}

// SetStatus records the billing state; locked meetings are deselected.
func (m *Meeting) SetStatus(s InvoiceStatus) {
	m.Status = s
	if m.Locked() {
		m.Selected = false
	}
}
