// Package logging holds the slog setup and attribute helpers shared by every package,
// so log lines about the same customer or meeting carry the same keys.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys.
const (
	KeyOperation = "operation"
	KeyCustomer  = "customer"
	KeyMeeting   = "meeting_id"
	KeyInvoice   = "invoice_id"
	KeyRunID     = "run_id"
	KeyError     = "error"
)

// New returns a text logger writing to w at the given level name.
// Unknown level names fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps debug/warn/error/info to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// Customer returns a slog attribute identifying a customer.
func Customer(id string) slog.Attr {
	return slog.String(KeyCustomer, id)
}

// Meeting returns a slog attribute for a meeting identifier.
func Meeting(id string) slog.Attr {
	return slog.String(KeyMeeting, id)
}

// Invoice returns a slog attribute for an invoice identifier.
func Invoice(id string) slog.Attr {
	return slog.String(KeyInvoice, id)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that slog omits from output.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}
