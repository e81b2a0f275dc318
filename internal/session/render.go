package session

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"meetinvoice/internal/billing"
	"meetinvoice/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "3:04 PM"
)

const helpText = `
Commands:
  <number>                 - Toggle selection for meeting
  all                      - Select all uninvoiced meetings
  none                     - Deselect all meetings
  edit <number>            - Change start time and duration (alias: time)
  rate <number> <amount>   - Use a custom hourly rate for one meeting ('default' resets)
  setrate <email> <amount> - Save a customer's hourly rate in Stripe
  list                     - Show the meetings again
  continue                 - Continue to synopsis entry
  quit                     - Exit without creating invoices
  ?                        - Show this help`

func (s *Session) printHelp() {
	s.println(helpText)
}

// renderMenu prints every meeting grouped by customer. Numbers are positions
// in the batch and stay fixed for the whole session.
func (s *Session) renderMenu() {
	s.printf("\n%s\nCUSTOMER MEETINGS - INVOICE SELECTION\n%s\n", rule, rule)

	rates := s.engine.Rates()
	var current *models.Customer
	for i, m := range s.batch.Meetings {
		if m.Customer != current {
			current = m.Customer
			s.printf("\n%s (%s) - %s/hour\n%s\n",
				current.DisplayName(), current.Email, billing.FormatMoney(rates.CustomerRate(current)), strings.Repeat("-", 60))
		}

		rate, amount := s.engine.Price(m)
		s.printf("%2d. %s %s\n", i+1, selectionMark(m), m.Title)

		details := fmt.Sprintf("%s at %s (%sh)",
			m.BillableStart().Format(dateLayout), m.BillableStart().Format(timeLayout), m.Hours())
		if m.RateOverride != nil {
			details += fmt.Sprintf(" @ %s/h", billing.FormatMoney(rate))
		}
		s.printf("    %s - %s\n", details, billing.FormatMoney(amount))

		var notes []string
		if m.IsEdited() {
			notes = append(notes, "edited")
		}
		if m.DurationClamped {
			notes = append(notes, "minimum duration applied")
		}
		status := m.Status.Label()
		if len(notes) > 0 {
			status += " (" + strings.Join(notes, ", ") + ")"
		}
		s.printf("    Status: %s\n\n", status)
	}
}

func selectionMark(m *models.Meeting) string {
	switch {
	case m.Locked():
		return "[-]"
	case m.Selected:
		return "[x]"
	default:
		return "[ ]"
	}
}

// originalHours returns the billable hours of the calendar duration, ignoring edits.
func originalHours(m *models.Meeting) decimal.Decimal {
	orig := *m
	orig.EditedHours = nil
	return orig.Hours()
}
