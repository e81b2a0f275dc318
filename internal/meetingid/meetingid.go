// Package meetingid derives the stable identifiers embedded in invoice line items.
//
// An identifier depends only on the customer, the original meeting date and the
// original meeting title, so edits made during a session (time, duration, rate,
// synopsis) never change it and repeated runs classify the meeting the same way.
package meetingid

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Length is the number of hex characters kept from the digest (64 bits).
const Length = 16

const (
	tagOpen  = "[ID:"
	tagClose = "]"
)

var tagPattern = regexp.MustCompile(`\[ID:([^\]\s]+)\]`)

var tagOpenPattern = regexp.MustCompile(`(?i)\[ID:`)

// Derive returns the identifier for a meeting of customerID held on date with the given title.
// The date is taken in date's own location.
func Derive(customerID string, date time.Time, title string) string {
	sum := sha256.Sum256([]byte(customerID + "|" + date.Format(time.DateOnly) + "|" + title))
	return hex.EncodeToString(sum[:])[:Length]
}

// Tag renders the identifier in the form recognised by Extract.
func Tag(id string) string {
	return tagOpen + id + tagClose
}

// Extract returns every identifier tagged in text, in order of appearance.
func Extract(text string) []string {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

// Sanitize neutralises tag openers in free text so that operator input cannot
// be mistaken for an identifier when invoices are scanned later.
func Sanitize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	return tagOpenPattern.ReplaceAllStringFunc(text, func(m string) string {
		return "(" + m[1:]
	})
}
