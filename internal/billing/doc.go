// Package billing holds the billing-side rules of meetinvoice: the interfaces of
// the remote customer directory and invoice ledger, the scan that classifies
// meetings by the invoices already carrying their identifiers, hourly rate
// resolution and the construction of invoice line items.
//
// Amounts are decimal values rounded half-up to cents when a line item is built,
// never earlier.
package billing
