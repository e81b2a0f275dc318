package billing

import (
	"context"
	"fmt"
	"log/slog"

	"meetinvoice/internal/meetingid"
	"meetinvoice/internal/models"
)

// Scanner derives meeting statuses from the identifiers embedded in remote invoices.
type Scanner struct {
	ledger InvoiceLedger
	logger *slog.Logger
}

// NewScanner creates a Scanner reading from ledger.
func NewScanner(ledger InvoiceLedger, logger *slog.Logger) *Scanner {
	return &Scanner{ledger: ledger, logger: logger}
}

// ScanStatuses returns the status of every id in ids. An id found on several
// invoices takes the most advanced status; ids found nowhere are not invoiced.
func (s *Scanner) ScanStatuses(ctx context.Context, ids []string) (map[string]models.InvoiceStatus, error) {
	statuses := make(map[string]models.InvoiceStatus, len(ids))
	for _, id := range ids {
		statuses[id] = models.StatusNotInvoiced
	}

	invoices, err := s.ledger.ListInvoices(ctx, ScannedStates...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	matched := 0
	for _, inv := range invoices {
		status, ok := inv.State.MeetingStatus()
		if !ok {
			continue
		}
		for _, line := range inv.Lines {
			for _, id := range meetingid.Extract(line.Description) {
				current, wanted := statuses[id]
				if !wanted {
					continue
				}
				matched++
				if status.Rank() > current.Rank() {
					statuses[id] = status
				}
			}
		}
	}

	s.logger.Info("Scanned invoices for meeting identifiers", "invoices", len(invoices), "meetings", len(ids), "matches", matched)
	return statuses, nil
}
