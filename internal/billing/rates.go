package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"meetinvoice/internal/logging"
	"meetinvoice/internal/models"
)

var (
	ErrInvalidRate    = errors.New("unable to parse rate")
	ErrRateOutOfRange = errors.New("rate must be between $0.01 and $10000")
)

// MaxRate is the highest hourly rate an operator may enter.
var MaxRate = decimal.NewFromInt(10000)

// ParseRate parses operator input such as "150", "$99.99" or "$1,000".
func ParseRate(s string) (decimal.Decimal, error) {
	rate, err := parseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() || rate.GreaterThan(MaxRate) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateOutOfRange, rate.String())
	}
	return rate, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidRate)
	}
	v, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, s)
	}
	return v, nil
}

// RateResolver picks the hourly rate for a meeting.
type RateResolver struct {
	defaultRate decimal.Decimal
	logger      *slog.Logger
}

// NewRateResolver creates a resolver that falls back to defaultRate.
func NewRateResolver(defaultRate decimal.Decimal, logger *slog.Logger) *RateResolver {
	return &RateResolver{defaultRate: defaultRate, logger: logger}
}

// Default returns the process-wide default rate.
func (r *RateResolver) Default() decimal.Decimal {
	return r.defaultRate
}

// CustomerRate returns the customer's stored rate, or the default when the
// metadata is missing, unparseable or not positive.
func (r *RateResolver) CustomerRate(c *models.Customer) decimal.Decimal {
	if c == nil {
		return r.defaultRate
	}
	raw, ok := c.HourlyRate()
	if !ok {
		return r.defaultRate
	}
	rate, err := parseAmount(raw)
	if err != nil || !rate.IsPositive() {
		r.logger.Warn("Invalid hourly rate in customer metadata, using default",
			logging.Customer(c.ID), "value", raw, "default", r.defaultRate.StringFixed(2))
		return r.defaultRate
	}
	return rate
}

// Resolve returns the meeting override, then the customer rate, then the default.
func (r *RateResolver) Resolve(m *models.Meeting) decimal.Decimal {
	if m.RateOverride != nil && m.RateOverride.IsPositive() {
		return *m.RateOverride
	}
	return r.CustomerRate(m.Customer)
}
