// Package stripe implements the billing customer directory and invoice ledger on top of Stripe.
package stripe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"meetinvoice/internal/billing"
	"meetinvoice/internal/logging"
	"meetinvoice/internal/models"
)

const pageSize = 100

// Client talks to the Stripe API.
type Client struct {
	api          *client.API
	logger       *slog.Logger
	currency     string
	daysUntilDue int64
	runID        string
}

// NewClient creates a Stripe client using the given secret key. runID scopes
// idempotency keys to one run, so retries within the run are replayed while a
// later run starts fresh.
func NewClient(logger *slog.Logger, secretKey, currency string, daysUntilDue int, runID string) *Client {
	return newClient(client.New(secretKey, nil), logger, currency, daysUntilDue, runID)
}

func newClient(api *client.API, logger *slog.Logger, currency string, daysUntilDue int, runID string) *Client {
	return &Client{
		api:          api,
		logger:       logger,
		currency:     strings.ToLower(currency),
		daysUntilDue: int64(daysUntilDue),
		runID:        runID,
	}
}

// ListCustomers fetches every customer that has an email address.
func (c *Client) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	c.logger.Debug("Fetching Stripe customers")

	params := &stripe.CustomerListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(pageSize)

	var customers []*models.Customer
	skipped := 0
	it := c.api.Customers.List(params)
	for it.Next() {
		cust := toCustomer(it.Customer())
		if cust == nil {
			skipped++
			continue
		}
		customers = append(customers, cust)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	if skipped > 0 {
		c.logger.Warn("Skipped customers without an email address", "count", skipped)
	}
	c.logger.Info("Fetched Stripe customers", "count", len(customers))
	return customers, nil
}

// UpdateCustomerMetadata writes a single metadata value on a customer.
func (c *Client) UpdateCustomerMetadata(ctx context.Context, customerID, key, value string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata(key, value)

	if _, err := c.api.Customers.Update(customerID, params); err != nil {
		return fmt.Errorf("failed to update metadata for customer %s: %w", customerID, err)
	}
	c.logger.Info("Updated customer metadata", logging.Customer(customerID), "key", key, "value", value)
	return nil
}

// ListInvoices fetches every invoice in the given states, with all of their line items.
func (c *Client) ListInvoices(ctx context.Context, states ...billing.InvoiceState) ([]billing.Invoice, error) {
	var invoices []billing.Invoice
	for _, state := range states {
		params := &stripe.InvoiceListParams{Status: stripe.String(string(state))}
		params.Context = ctx
		params.Limit = stripe.Int64(pageSize)

		it := c.api.Invoices.List(params)
		for it.Next() {
			inv := it.Invoice()
			lines, err := c.invoiceLines(ctx, inv)
			if err != nil {
				return nil, err
			}
			invoices = append(invoices, billing.Invoice{
				ID:    inv.ID,
				State: billing.InvoiceState(inv.Status),
				Lines: lines,
			})
		}
		if err := it.Err(); err != nil {
			return nil, fmt.Errorf("failed to list %s invoices: %w", state, err)
		}
	}
	c.logger.Debug("Fetched Stripe invoices", "count", len(invoices))
	return invoices, nil
}

// invoiceLines returns the embedded line items, paging through the rest when
// the invoice has more than fit in the list response.
func (c *Client) invoiceLines(ctx context.Context, inv *stripe.Invoice) ([]billing.InvoiceLine, error) {
	if inv.Lines == nil {
		return nil, nil
	}
	if !inv.Lines.HasMore {
		return toLines(inv.Lines.Data), nil
	}

	params := &stripe.InvoiceListLinesParams{Invoice: stripe.String(inv.ID)}
	params.Context = ctx
	params.Limit = stripe.Int64(pageSize)

	var items []*stripe.InvoiceLineItem
	it := c.api.Invoices.ListLines(params)
	for it.Next() {
		items = append(items, it.InvoiceLineItem())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to list lines of invoice %s: %w", inv.ID, err)
	}
	return toLines(items), nil
}

// CreateDraftInvoice creates a draft invoice for the customer and adds one
// invoice item per line. A failure after the invoice exists is reported as a
// *billing.LineItemError.
func (c *Client) CreateDraftInvoice(ctx context.Context, customerID string, lines []billing.LineItem) (string, error) {
	params := &stripe.InvoiceParams{
		Customer:         stripe.String(customerID),
		AutoAdvance:      stripe.Bool(false),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(c.daysUntilDue),
		Description:      stripe.String(fmt.Sprintf("Consultation services for %d meeting(s)", len(lines))),
	}
	params.Context = ctx
	params.SetIdempotencyKey(draftKey(c.runID, customerID, lines))

	inv, err := c.api.Invoices.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create invoice for customer %s: %w", customerID, err)
	}

	for i, line := range lines {
		item := &stripe.InvoiceItemParams{
			Customer:    stripe.String(customerID),
			Invoice:     stripe.String(inv.ID),
			Amount:      stripe.Int64(billing.MinorUnits(line.Amount)),
			Currency:    stripe.String(c.currency),
			Description: stripe.String(line.Description),
		}
		item.Context = ctx
		item.AddMetadata("meeting_id", line.MeetingID)
		item.SetIdempotencyKey(itemKey(inv.ID, i))

		if _, err := c.api.InvoiceItems.New(item); err != nil {
			return inv.ID, &billing.LineItemError{InvoiceID: inv.ID, Index: i, Err: err}
		}
		c.logger.Debug("Added invoice line item", logging.Invoice(inv.ID), logging.Meeting(line.MeetingID),
			"amount", billing.FormatMoney(line.Amount))
	}

	c.logger.Info("Created draft invoice", logging.Invoice(inv.ID), logging.Customer(customerID), "lines", len(lines))
	return inv.ID, nil
}

func toCustomer(sc *stripe.Customer) *models.Customer {
	if sc == nil || strings.TrimSpace(sc.Email) == "" {
		return nil
	}
	name := sc.Name
	if name == "" {
		name = "Unknown"
	}
	metadata := make(map[string]string, len(sc.Metadata))
	for k, v := range sc.Metadata {
		metadata[k] = v
	}
	return &models.Customer{
		ID:       sc.ID,
		Email:    strings.ToLower(strings.TrimSpace(sc.Email)),
		Name:     name,
		Metadata: metadata,
	}
}

func toLines(items []*stripe.InvoiceLineItem) []billing.InvoiceLine {
	lines := make([]billing.InvoiceLine, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		lines = append(lines, billing.InvoiceLine{Description: item.Description})
	}
	return lines
}

// draftKey is the idempotency key of a draft: identical for the same run,
// customer and meeting set.
func draftKey(runID, customerID string, lines []billing.LineItem) string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.MeetingID)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(runID + "|" + customerID + "|" + strings.Join(ids, ",")))
	return "meetinvoice-draft-" + hex.EncodeToString(sum[:16])
}

// itemKey is the idempotency key of the line at index on an invoice. Meeting
// ids are not unique within an invoice, so the position is used instead.
func itemKey(invoiceID string, index int) string {
	return "meetinvoice-item-" + invoiceID + "-" + strconv.Itoa(index)
}
