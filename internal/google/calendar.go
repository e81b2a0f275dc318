package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"meetinvoice/internal/models"
)

const (
	credentialsFile = "credentials.json"

	// AllCalendars in the calendar list selects every calendar of the account.
	AllCalendars = "*"

	defaultMaxTries = 4
)

// CalendarClient reads events from the Google Calendar API for one account.
type CalendarClient struct {
	service     *calendar.Service
	logger      *slog.Logger
	account     string
	calendarIDs []string

	newBackOff func() backoff.BackOff
	maxTries   uint
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// It supports multiple accounts by looking for token files like token-work.json, token-personal.json, etc.
// The accountName is used to find the correct token file in tokenDir.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenDir, accountName string, calendarIDs []string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenPath(tokenDir, accountName))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return newClientFromService(service, logger, accountName, calendarIDs), nil
}

func newClientFromService(service *calendar.Service, logger *slog.Logger, account string, calendarIDs []string) *CalendarClient {
	return &CalendarClient{
		service:     service,
		logger:      logger.With("account", account),
		account:     account,
		calendarIDs: calendarIDs,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		maxTries: defaultMaxTries,
	}
}

// ListEvents fetches the events between timeMin and timeMax from every configured calendar.
// Recurring events are expanded into single instances by the API.
func (c *CalendarClient) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]*models.Event, error) {
	calendarIDs := c.calendarIDs
	if len(calendarIDs) == 1 && calendarIDs[0] == AllCalendars {
		discovered, err := c.DiscoverGoogleCalendars(ctx)
		if err != nil {
			return nil, err
		}
		calendarIDs = discovered
	}

	var all []*models.Event
	for _, calID := range calendarIDs {
		items, err := c.listCalendar(ctx, calID, timeMin, timeMax)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve events from calendar %s: %w", calID, err)
		}
		events := c.toInternalEvents(items, fmt.Sprintf("google-%s", calID))
		c.logger.Info("Fetched events from Google Calendar", "count", len(events), "calendarID", calID)
		all = append(all, events...)
	}
	return all, nil
}

// listCalendar pages through one calendar, retrying transient API failures.
func (c *CalendarClient) listCalendar(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	attempt := 0
	op := func() ([]*calendar.Event, error) {
		attempt++
		var items []*calendar.Event
		err := c.service.Events.List(calendarID).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			OrderBy("startTime").
			Pages(ctx, func(page *calendar.Events) error {
				items = append(items, page.Items...)
				return nil
			})
		if err == nil {
			return items, nil
		}
		if !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		c.logger.Warn("Transient Google Calendar error, retrying", "calendarID", calendarID, "attempt", attempt, "error", err)
		return nil, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries))
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return true
}

// toInternalEvents converts Google Calendar events to the internal Event model.
// All-day events are kept and flagged so the matcher can account for them.
func (c *CalendarClient) toInternalEvents(googleEvents []*calendar.Event, source string) []*models.Event {
	var internalEvents []*models.Event
	for _, item := range googleEvents {
		if item == nil || item.Start == nil || item.End == nil || item.Status == "cancelled" {
			continue
		}

		event := &models.Event{
			ID:     item.Id,
			UID:    item.ICalUID,
			Title:  item.Summary,
			Source: source,
		}

		if item.Start.DateTime == "" {
			event.AllDay = true
			event.StartTime, _ = time.Parse(time.DateOnly, item.Start.Date)
			event.EndTime, _ = time.Parse(time.DateOnly, item.End.Date)
		} else {
			start, err := time.Parse(time.RFC3339, item.Start.DateTime)
			if err != nil {
				c.logger.Warn("Skipping event with unparseable start", "title", item.Summary, "start", item.Start.DateTime)
				continue
			}
			end, err := time.Parse(time.RFC3339, item.End.DateTime)
			if err != nil {
				c.logger.Warn("Event has unparseable end, treating it as zero length", "title", item.Summary, "end", item.End.DateTime)
				end = start
			}
			event.StartTime, event.EndTime = start, end
		}

		if item.Organizer != nil {
			event.Organizer = item.Organizer.Email
		}
		for _, a := range item.Attendees {
			if a == nil || a.Resource || a.Email == "" {
				continue
			}
			event.Attendees = append(event.Attendees, a.Email)
		}

		internalEvents = append(internalEvents, event)
	}
	return internalEvents
}

// DiscoverGoogleCalendars finds all calendars associated with the authenticated account.
func (c *CalendarClient) DiscoverGoogleCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	c.logger.Debug("Discovered Google calendars", "count", len(calendarIDs))
	return calendarIDs, nil
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// TokenPath returns the token file of an account.
func TokenPath(dir, accountName string) string {
	return filepath.Join(dir, "token-"+accountName+".json")
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// GetTokenAccounts lists the accounts that have a token file in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
