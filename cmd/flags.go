package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"meetinvoice/internal/billing"
	"meetinvoice/internal/config"
)

func globalFlags() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "stripe-key", Usage: "Stripe secret API key", EnvVars: []string{"STRIPE_SECRET_KEY"}},
		&cli.IntFlag{Name: "days-back", Value: def.DaysBack, Usage: "Number of days of calendar history to scan", EnvVars: []string{"DAYS_BACK"}},
		&cli.StringFlag{Name: "default-rate", Value: def.DefaultHourlyRate.String(), Usage: "Hourly rate for customers without one", EnvVars: []string{"DEFAULT_HOURLY_RATE"}},
		&cli.IntFlag{Name: "min-meeting-minutes", Value: int(def.MinMeetingLength / time.Minute), Usage: "Shortest billable meeting", EnvVars: []string{"MIN_MEETING_MINUTES"}},
		&cli.StringFlag{Name: "currency", Value: def.Currency, Usage: "Invoice currency (ISO code)", EnvVars: []string{"CURRENCY"}},
		&cli.IntFlag{Name: "days-until-due", Value: def.DaysUntilDue, Usage: "Payment terms of created invoices", EnvVars: []string{"DAYS_UNTIL_DUE"}},
		&cli.StringFlag{Name: "timezone", Value: "UTC", Usage: "Time zone meetings are shown and billed in", EnvVars: []string{"PRIMARY_TIMEZONE"}},
		&cli.DurationFlag{Name: "timeout", Usage: "Abort the whole run after this long (0 disables)", EnvVars: []string{"MEETINVOICE_TIMEOUT"}},
		&cli.StringFlag{Name: "log-level", Value: def.LogLevel, Usage: "debug, info, warn or error", EnvVars: []string{"LOG_LEVEL"}},

		&cli.StringFlag{Name: "calendar-provider", Value: def.CalendarProvider, Usage: "google, caldav or ics", EnvVars: []string{"CALENDAR_PROVIDER"}},
		&cli.StringFlag{Name: "google-client-id", EnvVars: []string{"GOOGLE_CLIENT_ID"}},
		&cli.StringFlag{Name: "google-client-secret", EnvVars: []string{"GOOGLE_CLIENT_SECRET"}},
		&cli.StringFlag{Name: "google-calendar-ids", Value: "primary", Usage: "Comma separated calendar IDs, or * for all", EnvVars: []string{"GOOGLE_CALENDAR_IDS"}},
		&cli.StringFlag{Name: "token-dir", Value: def.Google.TokenDir, Usage: "Directory holding token-<account>.json files", EnvVars: []string{"GOOGLE_TOKEN_DIR"}},
		&cli.StringFlag{Name: "caldav-endpoint", Value: def.CalDAV.Endpoint, EnvVars: []string{"CALDAV_ENDPOINT"}},
		&cli.StringFlag{Name: "icloud-username", EnvVars: []string{"ICLOUD_USERNAME"}},
		&cli.StringFlag{Name: "icloud-password", Usage: "App-specific password", EnvVars: []string{"ICLOUD_APP_SPECIFIC_PASSWORD"}},
		&cli.StringFlag{Name: "icloud-calendar", Usage: "Name of the calendar to read", EnvVars: []string{"ICLOUD_CALENDAR_NAME"}},
		&cli.StringFlag{Name: "ics-url", Usage: "Published iCalendar feed URL", EnvVars: []string{"ICS_URL"}},
	}
}

// loadConfig builds the run configuration from flags and environment. The
// result is not validated; commands validate what they need.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()

	loc, err := time.LoadLocation(c.String("timezone"))
	if err != nil {
		return cfg, fmt.Errorf("invalid timezone '%s': %w", c.String("timezone"), err)
	}
	rate, err := billing.ParseRate(c.String("default-rate"))
	if err != nil {
		return cfg, fmt.Errorf("invalid DEFAULT_HOURLY_RATE: %w", err)
	}

	cfg.StripeSecretKey = c.String("stripe-key")
	cfg.DaysBack = c.Int("days-back")
	cfg.DefaultHourlyRate = rate
	cfg.MinMeetingLength = time.Duration(c.Int("min-meeting-minutes")) * time.Minute
	cfg.Currency = c.String("currency")
	cfg.DaysUntilDue = c.Int("days-until-due")
	cfg.Location = loc
	cfg.Timeout = c.Duration("timeout")
	cfg.LogLevel = c.String("log-level")

	cfg.CalendarProvider = c.String("calendar-provider")
	cfg.Google = config.GoogleConfig{
		ClientID:     c.String("google-client-id"),
		ClientSecret: c.String("google-client-secret"),
		CalendarIDs:  config.SplitList(c.String("google-calendar-ids")),
		TokenDir:     c.String("token-dir"),
	}
	cfg.CalDAV = config.CalDAVConfig{
		Endpoint:     c.String("caldav-endpoint"),
		Username:     c.String("icloud-username"),
		Password:     c.String("icloud-password"),
		CalendarName: c.String("icloud-calendar"),
	}
	cfg.ICSURL = c.String("ics-url")
	return cfg, nil
}
