package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"meetinvoice/internal/billing"
	"meetinvoice/internal/config"
	"meetinvoice/internal/google"
	"meetinvoice/internal/icloud"
	"meetinvoice/internal/invoicer"
	"meetinvoice/internal/logging"
	"meetinvoice/internal/session"
	"meetinvoice/internal/stripe"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "meetinvoice",
		Usage:  "Turn calendar meetings with Stripe customers into draft invoices.",
		Flags:  globalFlags(),
		Action: runInvoice,
		Commands: []*cli.Command{
			authCommand(),
			invoiceCommand(),
			statusCommand(),
			setRateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := logging.New(os.Stderr, c.String("log-level"))
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(c.String("google-client-id"), c.String("google-client-secret"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = "default"
			}
			tokenFile := google.TokenPath(c.String("token-dir"), accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func invoiceCommand() *cli.Command {
	return &cli.Command{
		Name:   "invoice",
		Usage:  "Select meetings interactively and create draft invoices (default).",
		Action: runInvoice,
	}
}

func runInvoice(c *cli.Context) error {
	r, err := newRun(c, true)
	if err != nil {
		return err
	}
	defer r.cancel()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		r.logger.Warn("Standard input is not a terminal, reading commands from the input stream")
	}

	engine, err := r.engine()
	if err != nil {
		return err
	}

	report, err := session.New(engine, r.logger, os.Stdin, os.Stdout).Run(r.ctx)
	return sessionResult(r.logger, report, err)
}

// sessionResult turns the outcome of an interactive session into the
// command's error and exit code.
func sessionResult(logger *slog.Logger, report *invoicer.Report, err error) error {
	if errors.Is(err, session.ErrAborted) {
		// The operator quit on purpose; nothing was created.
		logger.Info("Invoicing aborted", logging.Err(err))
		return nil
	}
	if err != nil {
		return err
	}

	billed, failed := report.Counts()
	logger.Info("Invoicing finished", "invoices", len(report.Outcomes), "billed", billed, "failed", failed)
	if report.Failed() {
		return cli.Exit("some meetings could not be invoiced, see the report above", 1)
	}
	return nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "List recent meetings with their invoice status without changing anything.",
		Action: func(c *cli.Context) error {
			r, err := newRun(c, true)
			if err != nil {
				return err
			}
			defer r.cancel()

			engine, err := r.engine()
			if err != nil {
				return err
			}
			batch, err := engine.Prepare(r.ctx)
			if err != nil {
				return err
			}
			printStatus(engine, batch)
			return nil
		},
	}
}

func printStatus(engine *invoicer.Invoicer, batch *invoicer.Batch) {
	fmt.Printf("Meetings from %s to %s\n\n", batch.From.Format(time.DateOnly), batch.To.Format(time.DateOnly))
	if len(batch.Meetings) == 0 {
		fmt.Println("No meetings with known customers.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tCUSTOMER\tDATE\tMEETING\tHOURS\tRATE\tAMOUNT\tSTATUS\tID")
	unbilled := 0
	total := decimal.Zero
	for i, m := range batch.Meetings {
		rate, amount := engine.Price(m)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, m.Customer.DisplayName(), m.Start.Format("2006-01-02 3:04 PM"), m.Title,
			m.Hours(), billing.FormatMoney(rate), billing.FormatMoney(amount), m.Status.Label(), m.ID)
		if !m.Locked() {
			unbilled++
			total = total.Add(amount)
		}
	}
	_ = w.Flush()
	fmt.Printf("\n%d of %d meeting(s) not invoiced yet, worth %s.\n", unbilled, len(batch.Meetings), billing.FormatMoney(total))
}

func setRateCommand() *cli.Command {
	return &cli.Command{
		Name:      "setrate",
		Usage:     "Store a customer's hourly rate in Stripe.",
		ArgsUsage: "<email> <amount>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.Exit("usage: meetinvoice setrate <email> <amount>", 2)
			}
			r, err := newRun(c, false)
			if err != nil {
				return err
			}
			defer r.cancel()

			customer, rate, err := r.newInvoicer(nil).SetRateByEmail(r.ctx, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s (%s) to %s/hour\n", customer.DisplayName(), customer.Email, billing.FormatMoney(rate))
			return nil
		},
	}
}

// run carries what every command needs: configuration, logger and a
// cancellable context.
type run struct {
	id     string
	cfg    config.Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newRun(c *cli.Context, needCalendar bool) (*run, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if needCalendar {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration:\n%w", err)
		}
	} else if cfg.StripeSecretKey == "" {
		return nil, config.ErrMissingStripeKey
	}

	runID := uuid.NewString()
	logger := logging.New(os.Stderr, cfg.LogLevel).With(logging.KeyRunID, runID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	cancel := stop
	if cfg.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Timeout)
		cancel = func() {
			timeoutCancel()
			stop()
		}
	}
	return &run{id: runID, cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}, nil
}

func (r *run) newInvoicer(source invoicer.EventSource) *invoicer.Invoicer {
	billingClient := stripe.NewClient(r.logger, r.cfg.StripeSecretKey, r.cfg.Currency, r.cfg.DaysUntilDue, r.id)
	return invoicer.New(r.logger, r.cfg, source, billingClient, billingClient)
}

func (r *run) engine() (*invoicer.Invoicer, error) {
	source, err := r.eventSource()
	if err != nil {
		return nil, err
	}
	return r.newInvoicer(source), nil
}

// eventSource connects to the configured calendar provider.
func (r *run) eventSource() (invoicer.EventSource, error) {
	switch r.cfg.CalendarProvider {
	case config.ProviderCalDAV:
		cd := r.cfg.CalDAV
		client, err := icloud.NewClient(r.ctx, r.logger, cd.Endpoint, cd.Username, cd.Password, cd.CalendarName, r.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil

	case config.ProviderICS:
		return icloud.NewFeedClient(r.logger, r.cfg.ICSURL, r.cfg.Location), nil

	default:
		g := r.cfg.Google
		accounts, err := google.GetTokenAccounts(g.TokenDir)
		if err != nil {
			return nil, fmt.Errorf("could not find any google accounts, did you run auth command? %w", err)
		}
		if len(accounts) == 0 {
			return nil, errors.New("no google accounts found. Run the 'auth' command first")
		}

		var sources invoicer.MultiSource
		for _, acc := range accounts {
			client, err := google.NewClient(r.ctx, r.logger, g.ClientID, g.ClientSecret, g.TokenDir, acc, g.CalendarIDs)
			if err != nil {
				return nil, fmt.Errorf("failed to create google client for account %s: %w", acc, err)
			}
			sources = append(sources, client)
		}
		r.logger.Info("Initialized Google clients for all accounts.", "count", len(sources))
		return sources, nil
	}
}
