package icloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"meetinvoice/internal/models"
)

const maxFeedSize = 32 << 20

// FeedClient reads events from a published iCalendar (.ics) URL.
type FeedClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	url        string
	location   *time.Location
}

// NewFeedClient returns a client for the feed at url. webcal:// URLs are fetched over https.
func NewFeedClient(logger *slog.Logger, url string, loc *time.Location) *FeedClient {
	if strings.HasPrefix(url, "webcal://") {
		url = "https://" + strings.TrimPrefix(url, "webcal://")
	}
	return &FeedClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		url:        url,
		location:   loc,
	}
}

// ListEvents downloads the feed and returns the events overlapping [timeMin, timeMax).
func (c *FeedClient) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]*models.Event, error) {
	body, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateICalFormat(body); err != nil {
		return nil, err
	}

	conv := &converter{logger: c.logger, location: c.location, source: "ics"}
	var events []*models.Event
	dec := ical.NewDecoder(bytes.NewReader(body))
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		events = append(events, conv.events(cal, timeMin, timeMax)...)
	}
	c.logger.Info("Fetched events from iCalendar feed", "count", len(events))
	return events, nil
}

func (c *FeedClient) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func validateICalFormat(body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "<!DOCTYPE") || strings.HasPrefix(upper, "<HTML") {
		return errors.New("received HTML instead of iCalendar data - check if URL requires authentication")
	}
	if !strings.HasPrefix(upper, "BEGIN:VCALENDAR") {
		preview := trimmed
		if len(preview) > 100 {
			preview = preview[:100]
		}
		return fmt.Errorf("invalid iCalendar format - expected BEGIN:VCALENDAR, got: %s", preview)
	}
	return nil
}
