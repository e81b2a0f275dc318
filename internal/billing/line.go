package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"meetinvoice/internal/meetingid"
	"meetinvoice/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "3:04 PM"
)

// Amount returns rate × hours rounded half-up to cents.
func Amount(rate, hours decimal.Decimal) decimal.Decimal {
	return rate.Mul(hours).Round(2)
}

// MinorUnits converts a rounded amount to cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FormatMoney renders an amount as $1234.50.
func FormatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// Describe renders the line-item description. The trailing identifier tag is
// what the scanner looks for on later runs.
func Describe(synopsis string, start time.Time, hours, rate decimal.Decimal, id string) string {
	return fmt.Sprintf("%s - %s at %s (%sh @ %s/h) %s",
		meetingid.Sanitize(synopsis),
		start.Format(dateLayout),
		start.Format(timeLayout),
		hours.String(),
		FormatMoney(rate),
		meetingid.Tag(id))
}

// BuildLine prices the meeting at rate and returns its invoice line item.
func BuildLine(m *models.Meeting, rate decimal.Decimal) LineItem {
	synopsis := strings.TrimSpace(m.Synopsis)
	if synopsis == "" {
		synopsis = m.Title
	}
	hours := m.Hours()
	return LineItem{
		MeetingID:   m.ID,
		Description: Describe(synopsis, m.BillableStart(), hours, rate, m.ID),
		Amount:      Amount(rate, hours),
	}
}
