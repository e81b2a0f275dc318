// Package session is the interactive text menu an operator uses to pick,
// correct and price meetings before draft invoices are created.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"meetinvoice/internal/billing"
	"meetinvoice/internal/invoicer"
	"meetinvoice/internal/logging"
	"meetinvoice/internal/models"
)

// ErrAborted is returned when the operator quits or declines to continue.
var ErrAborted = errors.New("aborted by operator")

const rule = "================================================================================"

// Engine is the invoicing backend the session drives.
type Engine interface {
	Prepare(ctx context.Context) (*invoicer.Batch, error)
	Rates() *billing.RateResolver
	Price(m *models.Meeting) (rate, amount decimal.Decimal)
	Plan(meetings []*models.Meeting) []*invoicer.Draft
	CreateInvoice(ctx context.Context, d *invoicer.Draft) *invoicer.Outcome
	SetCustomerRate(ctx context.Context, c *models.Customer, raw string) (decimal.Decimal, error)
}

// Session runs one interactive invoicing session over a line-based reader and writer.
type Session struct {
	engine Engine
	logger *slog.Logger
	in     *bufio.Reader
	out    io.Writer

	batch *invoicer.Batch
}

// New creates a session reading commands from in and printing to out.
func New(engine Engine, logger *slog.Logger, in io.Reader, out io.Writer) *Session {
	return &Session{
		engine: engine,
		logger: logger,
		in:     bufio.NewReader(in),
		out:    out,
	}
}

// Run prepares the meetings, lets the operator select and edit them, and
// creates the draft invoices. It returns ErrAborted when the operator quits
// before anything was created.
func (s *Session) Run(ctx context.Context) (*invoicer.Report, error) {
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}
	if len(s.batch.Meetings) == 0 {
		s.printf("\nNo meetings with known customers between %s and %s.\n",
			s.batch.From.Format(dateLayout), s.batch.To.Format(dateLayout))
		return &invoicer.Report{}, nil
	}

	if err := s.selectMeetings(ctx); err != nil {
		return nil, err
	}
	if err := s.collectSynopses(); err != nil {
		return nil, err
	}

	drafts := s.engine.Plan(s.batch.Meetings)
	ok, err := s.confirm(drafts)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.println("Invoice creation cancelled")
		return nil, ErrAborted
	}

	report := s.createInvoices(ctx, drafts)
	s.printReport(report)
	return report, nil
}

func (s *Session) prepare(ctx context.Context) error {
	for {
		s.println("Fetching calendar events, customers and invoices...")
		batch, err := s.engine.Prepare(ctx)
		if err == nil {
			s.batch = batch
			return nil
		}
		s.printf("Error: %v\n", err)
		retry, perr := s.retryOrAbort()
		if perr != nil {
			return perr
		}
		if !retry {
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}
	}
}

// retryOrAbort asks whether a failed remote step should be tried again.
func (s *Session) retryOrAbort() (bool, error) {
	for {
		answer, err := s.prompt("(r)etry or (a)bort? ")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "r", "retry":
			return true, nil
		case "a", "abort":
			return false, nil
		}
		s.println("Please enter 'r' or 'a'")
	}
}

// selectMeetings runs the command loop until the operator continues or quits.
func (s *Session) selectMeetings(ctx context.Context) error {
	s.renderMenu()
	s.printHelp()
	for {
		line, err := s.prompt("\nEnter command: ")
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch cmd := strings.ToLower(fields[0]); cmd {
		case "quit", "exit", "q":
			s.println("Exiting...")
			return ErrAborted
		case "continue", "c":
			if s.selectedCount() == 0 {
				s.println("No meetings selected. Select meetings or type 'quit'.")
				continue
			}
			return nil
		case "all":
			for _, m := range s.batch.Meetings {
				if !m.Locked() {
					m.Selected = true
				}
			}
			s.println("Selected all uninvoiced meetings")
		case "none":
			for _, m := range s.batch.Meetings {
				m.Selected = false
			}
			s.println("Deselected all meetings")
		case "list", "l":
			s.renderMenu()
		case "?", "help":
			s.printHelp()
		case "edit", "time":
			if len(fields) != 2 {
				s.printf("Usage: %s <number>\n", cmd)
				continue
			}
			if m, n, ok := s.meetingArg(fields[1]); ok {
				if err := s.editMeeting(m, n); err != nil {
					return err
				}
			}
		case "rate":
			if len(fields) != 3 {
				s.println("Usage: rate <number> <amount>  (or 'rate <number> default')")
				continue
			}
			if m, n, ok := s.meetingArg(fields[1]); ok {
				s.overrideRate(m, n, fields[2])
			}
		case "setrate":
			if len(fields) != 3 {
				s.println("Usage: setrate <email> <amount>")
				continue
			}
			s.setCustomerRate(ctx, fields[1], fields[2])
		default:
			n, convErr := strconv.Atoi(cmd)
			if convErr != nil {
				s.printf("Invalid command: %s (type ? for help)\n", fields[0])
				continue
			}
			s.toggle(n)
		}
	}
}

func (s *Session) toggle(n int) {
	m, ok := s.meeting(n)
	if !ok {
		s.printf("Invalid meeting number: %d\n", n)
		return
	}
	if err := m.Toggle(); err != nil {
		s.printf("Cannot select meeting #%d - %s (%s)\n", n, err, m.Status.Label())
		return
	}
	if m.Selected {
		s.printf("Selected meeting #%d\n", n)
	} else {
		s.printf("Deselected meeting #%d\n", n)
	}
}

func (s *Session) meeting(n int) (*models.Meeting, bool) {
	if n < 1 || n > len(s.batch.Meetings) {
		return nil, false
	}
	return s.batch.Meetings[n-1], true
}

// meetingArg resolves a meeting number argument of edit and rate. Locked
// meetings cannot be changed.
func (s *Session) meetingArg(arg string) (*models.Meeting, int, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		s.printf("Invalid meeting number: %s\n", arg)
		return nil, 0, false
	}
	m, ok := s.meeting(n)
	if !ok {
		s.printf("Invalid meeting number: %d\n", n)
		return nil, 0, false
	}
	if m.Locked() {
		s.printf("Cannot change meeting #%d - %s (%s)\n", n, models.ErrMeetingLocked, m.Status.Label())
		return nil, 0, false
	}
	return m, n, true
}

// editMeeting prompts for a new start time and duration. A blank answer keeps
// the current value and "original" restores the calendar value.
func (s *Session) editMeeting(m *models.Meeting, n int) error {
	s.printf("\nEditing meeting #%d: %s\n", n, m.Title)
	s.printf("Calendar: %s at %s (%sh)\n", m.Start.Format(dateLayout), m.Start.Format(timeLayout), originalHours(m))

	for {
		answer, err := s.prompt(fmt.Sprintf("Start time [%s] (blank keeps, 'original' resets): ", m.BillableStart().Format(timeLayout)))
		if err != nil {
			return err
		}
		if answer == "" {
			break
		}
		if strings.EqualFold(answer, "original") {
			m.EditedStart = nil
			break
		}
		start, perr := ParseClock(answer, m.Start)
		if perr != nil {
			s.printf("%v\n", perr)
			continue
		}
		if start.Equal(m.Start) {
			m.EditedStart = nil
		} else {
			m.EditedStart = &start
		}
		break
	}

	for {
		answer, err := s.prompt(fmt.Sprintf("Duration in hours [%s] (blank keeps, 'original' resets): ", m.Hours()))
		if err != nil {
			return err
		}
		if answer == "" {
			break
		}
		if strings.EqualFold(answer, "original") {
			m.EditedHours = nil
			break
		}
		hours, perr := ParseHours(answer)
		if perr != nil {
			s.printf("%v\n", perr)
			continue
		}
		m.EditedHours = &hours
		break
	}

	_, amount := s.engine.Price(m)
	s.printf("Meeting #%d: %s at %s (%sh) - %s\n", n,
		m.BillableStart().Format(dateLayout), m.BillableStart().Format(timeLayout), m.Hours(), billing.FormatMoney(amount))
	s.logger.Debug("Edited meeting", logging.Meeting(m.ID), "edited", m.IsEdited())
	return nil
}

func (s *Session) overrideRate(m *models.Meeting, n int, raw string) {
	if strings.EqualFold(raw, "default") || strings.EqualFold(raw, "original") {
		m.RateOverride = nil
		rate, _ := s.engine.Price(m)
		s.printf("Meeting #%d uses the customer rate again: %s/hour\n", n, billing.FormatMoney(rate))
		return
	}
	rate, err := billing.ParseRate(raw)
	if err != nil {
		s.printf("%v\n", err)
		return
	}
	m.RateOverride = &rate
	_, amount := s.engine.Price(m)
	s.printf("Meeting #%d rate set to %s/hour - %s\n", n, billing.FormatMoney(rate), billing.FormatMoney(amount))
}

func (s *Session) setCustomerRate(ctx context.Context, email, raw string) {
	c, err := invoicer.FindCustomer(s.batch.Customers, email)
	if err != nil {
		s.printf("%v\n", err)
		return
	}
	rate, err := s.engine.SetCustomerRate(ctx, c, raw)
	if err != nil {
		s.printf("Could not update rate: %v\n", err)
		return
	}
	s.printf("Updated %s to %s/hour\n", c.DisplayName(), billing.FormatMoney(rate))
}

func (s *Session) selectedCount() int {
	n := 0
	for _, m := range s.batch.Meetings {
		if m.Selected {
			n++
		}
	}
	return n
}

// collectSynopses asks for the line-item text of every selected meeting.
func (s *Session) collectSynopses() error {
	s.printf("\n%s\nMEETING SYNOPSIS ENTRY\n%s\n", rule, rule)
	s.println("Enter a brief synopsis for each selected meeting.")
	s.println("Press Enter to use the meeting title.")

	var current *models.Customer
	for _, m := range s.batch.Meetings {
		if !m.Selected {
			continue
		}
		if m.Customer != current {
			current = m.Customer
			s.printf("\n%s (%s)\n%s\n", current.DisplayName(), current.Email, strings.Repeat("-", 60))
		}
		s.printf("\n%s - %s at %s (%sh)\n", m.Title,
			m.BillableStart().Format(dateLayout), m.BillableStart().Format(timeLayout), m.Hours())
		answer, err := s.prompt(fmt.Sprintf("Synopsis [%s]: ", m.Title))
		if err != nil {
			return err
		}
		if answer == "" {
			answer = m.Title
		}
		m.Synopsis = answer
	}
	return nil
}

func (s *Session) confirm(drafts []*invoicer.Draft) (bool, error) {
	s.printf("\n%s\nINVOICE CONFIRMATION\n%s\n", rule, rule)

	total := decimal.Zero
	meetings := 0
	for _, d := range drafts {
		hours := decimal.Zero
		for _, m := range d.Meetings {
			hours = hours.Add(m.Hours())
		}
		s.printf("\n%s (%s)\n", d.Customer.DisplayName(), d.Customer.Email)
		s.printf("   Total: %d meeting(s), %sh, %s\n", len(d.Meetings), hours, billing.FormatMoney(d.Total))
		s.printf("   %s\n", strings.Repeat("-", 50))
		for i, m := range d.Meetings {
			rate, _ := s.engine.Price(m)
			s.printf("   * %s\n", m.Synopsis)
			s.printf("     %s at %s (%sh @ %s/h) - %s\n",
				m.BillableStart().Format(dateLayout), m.BillableStart().Format(timeLayout),
				m.Hours(), billing.FormatMoney(rate), billing.FormatMoney(d.Lines[i].Amount))
		}
		total = total.Add(d.Total)
		meetings += len(d.Meetings)
	}

	s.println("\nSUMMARY:")
	s.printf("   Invoices: %d\n", len(drafts))
	s.printf("   Total Meetings: %d\n", meetings)
	s.printf("   Total Amount: %s\n", billing.FormatMoney(total))

	for {
		answer, err := s.prompt(fmt.Sprintf("\nCreate %d draft invoice(s)? (y/n): ", len(drafts)))
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		s.println("Please enter 'y' or 'n'")
	}
}

// createInvoices creates the drafts one customer at a time. A draft that was
// not created at all can be retried; aborting marks it and every remaining
// draft as failed.
func (s *Session) createInvoices(ctx context.Context, drafts []*invoicer.Draft) *invoicer.Report {
	report := &invoicer.Report{}
	for i := 0; i < len(drafts); i++ {
		d := drafts[i]
		s.printf("Creating draft invoice for %s (%d meeting(s))...\n", d.Customer.DisplayName(), len(d.Meetings))
		out := s.engine.CreateInvoice(ctx, d)
		if out.Err != nil && out.InvoiceID == "" && ctx.Err() == nil {
			s.printf("Error: %v\n", out.Err)
			retry, err := s.retryOrAbort()
			if err == nil && retry {
				i--
				continue
			}
			report.Add(out)
			for _, rest := range drafts[i+1:] {
				report.Add(&invoicer.Outcome{Draft: rest, Failed: rest.Meetings, Err: ErrAborted})
			}
			return report
		}
		report.Add(out)
	}
	return report
}

func (s *Session) printReport(report *invoicer.Report) {
	s.printf("\n%s\nRESULTS\n%s\n", rule, rule)
	for _, o := range report.Outcomes {
		d := o.Draft
		s.printf("\n%s (%s)\n", d.Customer.DisplayName(), d.Customer.Email)
		if o.InvoiceID != "" {
			s.printf("   Draft invoice: %s\n", o.InvoiceID)
		}
		for _, m := range o.Billed {
			s.printf("   OK      %s %s\n", m.BillableStart().Format(dateLayout), m.Title)
		}
		for _, m := range o.Failed {
			s.printf("   FAILED  %s %s\n", m.BillableStart().Format(dateLayout), m.Title)
		}
		if o.Err != nil {
			s.printf("   Error: %v\n", o.Err)
		}
		if o.Partial() {
			s.printf("   Invoice %s is incomplete. Review or delete it in Stripe before re-running.\n", o.InvoiceID)
		}
	}

	billed, failed := report.Counts()
	if failed == 0 {
		s.printf("\nSUCCESS: %d meeting(s) billed on %d draft invoice(s).\n", billed, len(report.Outcomes))
		s.println("You can review and send them from your Stripe dashboard.")
		return
	}
	s.printf("\nFINISHED WITH ERRORS: %d meeting(s) billed, %d failed.\n", billed, failed)
}

// prompt prints text and reads one trimmed line. A final line without a
// newline is returned; EOF on an empty line aborts the session.
func (s *Session) prompt(text string) (string, error) {
	s.printf("%s", text)
	line, err := s.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			s.println()
			return "", fmt.Errorf("%w: input closed", ErrAborted)
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Session) println(args ...any) {
	fmt.Fprintln(s.out, args...)
}
