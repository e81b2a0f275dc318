package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTime     = errors.New("invalid time, use a format like 2:30 PM, 2PM, 14:30 or 14")
	ErrInvalidDuration = errors.New("invalid duration, use hours like 1.5, 1.5h, 2hr or 0.5 hours")
	ErrDurationRange   = errors.New("duration must be more than 0 and at most 24 hours")
)

var clockLayouts = []string{"3:04PM", "3PM", "15:04", "15"}

// maxHours is the longest duration an operator may enter.
var maxHours = decimal.NewFromInt(24)

// ParseClock parses a time of day and places it on day's date in day's location.
func ParseClock(s string, day time.Time) (time.Time, error) {
	v := strings.ToUpper(strings.Join(strings.Fields(s), ""))
	v = strings.ReplaceAll(v, ".", "")
	if v == "" {
		return time.Time{}, ErrInvalidTime
	}
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

var hourSuffixes = []string{"hours", "hour", "hrs", "hr", "h"}

// ParseHours parses a duration in hours, rounded to hundredths.
func ParseHours(s string) (decimal.Decimal, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, suffix := range hourSuffixes {
		if strings.HasSuffix(v, suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, suffix))
			break
		}
	}
	if v == "" {
		return decimal.Zero, ErrInvalidDuration
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	d = d.Round(2)
	if !d.IsPositive() || d.GreaterThan(maxHours) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrDurationRange, d.String())
	}
	return d, nil
}
