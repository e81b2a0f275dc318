// Package config defines the run configuration passed to every component.
// Values are populated by the CLI from flags and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Calendar providers.
const (
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
	ProviderICS    = "ics"
)

// DefaultCalDAVEndpoint is the iCloud CalDAV endpoint.
const DefaultCalDAVEndpoint = "https://caldav.icloud.com/"

var (
	ErrMissingStripeKey = errors.New("STRIPE_SECRET_KEY is not set")
	ErrUnknownProvider  = errors.New("unknown calendar provider")
)

// GoogleConfig configures the Google Calendar event source.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CalendarIDs  []string
	// TokenDir is searched for token-<account>.json files.
	TokenDir string
}

// CalDAVConfig configures the CalDAV event source.
type CalDAVConfig struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
}

// Config is the complete run configuration.
type Config struct {
	StripeSecretKey   string
	DaysBack          int
	DefaultHourlyRate decimal.Decimal
	MinMeetingLength  time.Duration
	Currency          string
	DaysUntilDue      int
	Location          *time.Location
	Timeout           time.Duration
	LogLevel          string

	CalendarProvider string
	Google           GoogleConfig
	CalDAV           CalDAVConfig
	ICSURL           string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		DaysBack:          7,
		DefaultHourlyRate: decimal.NewFromInt(250),
		MinMeetingLength:  15 * time.Minute,
		Currency:          "usd",
		DaysUntilDue:      30,
		Location:          time.UTC,
		LogLevel:          "info",
		CalendarProvider:  ProviderGoogle,
		Google: GoogleConfig{
			CalendarIDs: []string{"primary"},
			TokenDir:    ".",
		},
		CalDAV: CalDAVConfig{
			Endpoint: DefaultCalDAVEndpoint,
		},
	}
}

// Validate reports every invalid or missing setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, ErrMissingStripeKey)
	}
	if c.DaysBack <= 0 {
		errs = append(errs, fmt.Errorf("DAYS_BACK must be positive, got %d", c.DaysBack))
	}
	if !c.DefaultHourlyRate.IsPositive() {
		errs = append(errs, fmt.Errorf("DEFAULT_HOURLY_RATE must be positive, got %s", c.DefaultHourlyRate))
	}
	if c.MinMeetingLength <= 0 {
		errs = append(errs, fmt.Errorf("MIN_MEETING_MINUTES must be positive, got %s", c.MinMeetingLength))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CURRENCY must be a three-letter ISO code, got %q", c.Currency))
	}
	if c.DaysUntilDue <= 0 {
		errs = append(errs, fmt.Errorf("DAYS_UNTIL_DUE must be positive, got %d", c.DaysUntilDue))
	}

	switch c.CalendarProvider {
	case ProviderGoogle:
		if len(c.Google.CalendarIDs) == 0 {
			errs = append(errs, errors.New("GOOGLE_CALENDAR_IDS must name at least one calendar"))
		}
	case ProviderCalDAV:
		if c.CalDAV.Username == "" || c.CalDAV.Password == "" {
			errs = append(errs, errors.New("ICLOUD_USERNAME and ICLOUD_APP_SPECIFIC_PASSWORD are required for the caldav provider"))
		}
		if c.CalDAV.CalendarName == "" {
			errs = append(errs, errors.New("ICLOUD_CALENDAR_NAME is required for the caldav provider"))
		}
	case ProviderICS:
		if c.ICSURL == "" {
			errs = append(errs, errors.New("ICS_URL is required for the ics provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProvider, c.CalendarProvider))
	}

	return errors.Join(errs...)
}

// Window returns the calendar range to scan, ending at now.
func (c Config) Window(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -c.DaysBack), now
}

// SplitList splits a comma separated setting, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
