package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"meetinvoice/internal/models"
)

// InvoiceState is the lifecycle state of a remote invoice.
type InvoiceState string

const (
	StateDraft         InvoiceState = "draft"
	StateOpen          InvoiceState = "open"
	StatePaid          InvoiceState = "paid"
	StateUncollectible InvoiceState = "uncollectible"
	StateVoid          InvoiceState = "void"
)

// ScannedStates are the invoice states that count as a meeting having been billed.
// Void invoices are excluded so their meetings can be billed again.
var ScannedStates = []InvoiceState{StateDraft, StateOpen, StatePaid, StateUncollectible}

// MeetingStatus maps an invoice state to the status of the meetings it bills.
// The second return value is false for states that do not bill anything.
func (s InvoiceState) MeetingStatus() (models.InvoiceStatus, bool) {
	switch s {
	case StateDraft:
		return models.StatusDrafted, true
	case StateOpen, StatePaid, StateUncollectible:
		return models.StatusSent, true
	default:
		return models.StatusNotInvoiced, false
	}
}

// Invoice is the part of a remote invoice the scanner reads.
type Invoice struct {
	ID    string
	State InvoiceState
	Lines []InvoiceLine
}

// InvoiceLine is a line item of an existing invoice.
type InvoiceLine struct {
	Description string
}

// LineItem is a line item to be created on a draft invoice.
type LineItem struct {
	MeetingID   string
	Description string
	Amount      decimal.Decimal
}

// CustomerDirectory lists billing customers and updates their metadata.
type CustomerDirectory interface {
	ListCustomers(ctx context.Context) ([]*models.Customer, error)
	UpdateCustomerMetadata(ctx context.Context, customerID, key, value string) error
}

// InvoiceLedger lists existing invoices and creates draft ones.
type InvoiceLedger interface {
	ListInvoices(ctx context.Context, states ...InvoiceState) ([]Invoice, error)
	CreateDraftInvoice(ctx context.Context, customerID string, lines []LineItem) (string, error)
}

// LineItemError reports a draft invoice that was created remotely but could
// not receive all of its line items. Lines before Index were added.
type LineItemError struct {
	InvoiceID string
	Index     int
	Err       error
}

func (e *LineItemError) Error() string {
	return fmt.Sprintf("invoice %s created but line item %d failed: %v", e.InvoiceID, e.Index+1, e.Err)
}

func (e *LineItemError) Unwrap() error {
	return e.Err
}
