// Package invoicer runs one invoicing cycle: it gathers calendar events and
// customers, works out which meetings are still unbilled, and turns the
// operator's selection into draft invoices.
package invoicer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"meetinvoice/internal/billing"
	"meetinvoice/internal/config"
	"meetinvoice/internal/logging"
	"meetinvoice/internal/matcher"
	"meetinvoice/internal/models"
)

// ErrCustomerNotFound is returned when no customer has the given email.
var ErrCustomerNotFound = errors.New("no customer with that email")

// EventSource is a calendar the events are read from.
type EventSource interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]*models.Event, error)
}

// MultiSource reads every source in order and concatenates the events.
type MultiSource []EventSource

// ListEvents fails as soon as one source fails, so no meeting goes missing silently.
func (ms MultiSource) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]*models.Event, error) {
	var all []*models.Event
	for i, s := range ms {
		events, err := s.ListEvents(ctx, timeMin, timeMax)
		if err != nil {
			return nil, fmt.Errorf("calendar source %d: %w", i+1, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

// Invoicer orchestrates an invoicing run.
type Invoicer struct {
	logger    *slog.Logger
	cfg       config.Config
	source    EventSource
	directory billing.CustomerDirectory
	ledger    billing.InvoiceLedger
	scanner   *billing.Scanner
	matcher   *matcher.Matcher
	rates     *billing.RateResolver
	now       func() time.Time
}

// New creates an Invoicer.
func New(logger *slog.Logger, cfg config.Config, source EventSource, directory billing.CustomerDirectory, ledger billing.InvoiceLedger) *Invoicer {
	return &Invoicer{
		logger:    logger,
		cfg:       cfg,
		source:    source,
		directory: directory,
		ledger:    ledger,
		scanner:   billing.NewScanner(ledger, logger),
		matcher:   matcher.New(logger, cfg.MinMeetingLength, cfg.Location),
		rates:     billing.NewRateResolver(cfg.DefaultHourlyRate, logger),
		now:       time.Now,
	}
}

// Batch is the state prepared for one run.
type Batch struct {
	From, To  time.Time
	Customers []*models.Customer
	Meetings  []*models.Meeting
}

// Prepare fetches events and customers, matches them and classifies every
// meeting against existing invoices. Unbilled meetings start selected.
func (inv *Invoicer) Prepare(ctx context.Context) (*Batch, error) {
	logger := logging.WithOperation(inv.logger, "prepare")
	from, to := inv.cfg.Window(inv.now())

	events, err := inv.source.ListEvents(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar events: %w", err)
	}
	logger.Info("Fetched calendar events", "count", len(events), "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))

	customers, err := inv.directory.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch customers: %w", err)
	}
	logger.Info("Fetched customers", "count", len(customers))

	meetings := inv.matcher.Match(events, customers)

	ids := make([]string, 0, len(meetings))
	for _, m := range meetings {
		ids = append(ids, m.ID)
	}
	statuses, err := inv.scanner.ScanStatuses(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice status: %w", err)
	}
	for _, m := range meetings {
		m.SetStatus(statuses[m.ID])
		m.Selected = !m.Locked()
	}

	return &Batch{From: from, To: to, Customers: customers, Meetings: meetings}, nil
}

// Rates returns the resolver used to price meetings.
func (inv *Invoicer) Rates() *billing.RateResolver {
	return inv.rates
}

// Price returns the hourly rate and rounded amount of a meeting.
func (inv *Invoicer) Price(m *models.Meeting) (rate, amount decimal.Decimal) {
	rate = inv.rates.Resolve(m)
	return rate, billing.Amount(rate, m.Hours())
}

// Draft is one invoice to be created: the selected meetings of a customer and their lines.
type Draft struct {
	Customer *models.Customer
	Meetings []*models.Meeting
	Lines    []billing.LineItem
	Total    decimal.Decimal
}

// Plan groups the selected, unlocked meetings by customer in the order they
// appear and prices each one. Lines[i] bills Meetings[i].
func (inv *Invoicer) Plan(meetings []*models.Meeting) []*Draft {
	var drafts []*Draft
	byCustomer := make(map[string]*Draft)
	for _, m := range meetings {
		if !m.Selected || m.Locked() {
			continue
		}
		d, ok := byCustomer[m.Customer.ID]
		if !ok {
			d = &Draft{Customer: m.Customer, Total: decimal.Zero}
			byCustomer[m.Customer.ID] = d
			drafts = append(drafts, d)
		}
		line := billing.BuildLine(m, inv.rates.Resolve(m))
		d.Meetings = append(d.Meetings, m)
		d.Lines = append(d.Lines, line)
		d.Total = d.Total.Add(line.Amount)
	}
	return drafts
}

// Outcome is the result of creating one draft invoice.
type Outcome struct {
	Draft     *Draft
	InvoiceID string
	Billed    []*models.Meeting
	Failed    []*models.Meeting
	Err       error
}

// Partial reports whether the invoice exists remotely but is missing lines.
func (o *Outcome) Partial() bool {
	return o.InvoiceID != "" && len(o.Failed) > 0
}

// CreateInvoice creates the draft invoice for d. Meetings whose line was added
// are marked drafted; the rest are reported as failed.
func (inv *Invoicer) CreateInvoice(ctx context.Context, d *Draft) *Outcome {
	logger := logging.WithOperation(inv.logger, "create_invoice").With(logging.Customer(d.Customer.ID))
	out := &Outcome{Draft: d}

	id, err := inv.ledger.CreateDraftInvoice(ctx, d.Customer.ID, d.Lines)
	billed := len(d.Meetings)
	if err != nil {
		out.Err = err
		billed = 0
		var lineErr *billing.LineItemError
		if errors.As(err, &lineErr) {
			id = lineErr.InvoiceID
			billed = min(max(lineErr.Index, 0), len(d.Meetings))
		}
	}
	out.InvoiceID = id

	for i, m := range d.Meetings {
		if i < billed {
			m.SetStatus(models.StatusDrafted)
			out.Billed = append(out.Billed, m)
			continue
		}
		out.Failed = append(out.Failed, m)
	}

	switch {
	case err == nil:
		logger.Info("Created draft invoice", logging.Invoice(id), "lines", len(d.Lines), "total", billing.FormatMoney(d.Total))
	case id != "":
		logger.Error("Draft invoice is incomplete", logging.Invoice(id), "billed", len(out.Billed), "failed", len(out.Failed), logging.Err(err))
	default:
		logger.Error("Failed to create draft invoice", logging.Err(err))
	}
	return out
}

// Report collects the outcomes of a run.
type Report struct {
	Outcomes []*Outcome
}

// Add records an outcome.
func (r *Report) Add(o *Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Failed reports whether any meeting could not be billed.
func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil || len(o.Failed) > 0 {
			return true
		}
	}
	return false
}

// Counts returns the number of billed and failed meetings.
func (r *Report) Counts() (billed, failed int) {
	for _, o := range r.Outcomes {
		billed += len(o.Billed)
		failed += len(o.Failed)
	}
	return billed, failed
}

// SetCustomerRate validates raw, stores it as the customer's hourly rate in
// the billing system and updates the in-memory customer.
func (inv *Invoicer) SetCustomerRate(ctx context.Context, c *models.Customer, raw string) (decimal.Decimal, error) {
	rate, err := billing.ParseRate(raw)
	if err != nil {
		return decimal.Zero, err
	}
	value := rate.StringFixed(2)
	if err := inv.directory.UpdateCustomerMetadata(ctx, c.ID, models.HourlyRateKey, value); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update rate for %s: %w", c.Email, err)
	}
	c.SetMetadata(models.HourlyRateKey, value)
	inv.logger.Info("Updated customer hourly rate", logging.Customer(c.ID), "rate", value)
	return rate, nil
}

// SetRateByEmail looks the customer up by email and sets its hourly rate.
func (inv *Invoicer) SetRateByEmail(ctx context.Context, email, raw string) (*models.Customer, decimal.Decimal, error) {
	if _, err := billing.ParseRate(raw); err != nil {
		return nil, decimal.Zero, err
	}
	customers, err := inv.directory.ListCustomers(ctx)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to fetch customers: %w", err)
	}
	c, err := FindCustomer(customers, email)
	if err != nil {
		return nil, decimal.Zero, err
	}
	rate, err := inv.SetCustomerRate(ctx, c, raw)
	return c, rate, err
}

// FindCustomer returns the customer whose email matches, ignoring case.
func FindCustomer(customers []*models.Customer, email string) (*models.Customer, error) {
	email = strings.TrimSpace(email)
	for _, c := range customers {
		if strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, email)
}
