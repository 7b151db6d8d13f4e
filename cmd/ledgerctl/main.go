// Command ledgerctl is a terminal client for the ledger API.
//
//	ledgerctl login -email you@example.com -password ...
//	LEDGER_TOKEN=... ledgerctl parties -status active
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bizledger/internal/client"
	"bizledger/internal/config"
	"bizledger/internal/logging"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/reminder"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  login       sign in and print a token for LEDGER_TOKEN
  parties     list parties
  add         create a party
  record      record a gave/got entry against a party
  txns        list a party's transactions
  toggle      flip a party between active and settled
  delete      delete a party and its transactions
  summary     show receivable/payable totals
  remind      open a payment reminder in WhatsApp
  check       report cached balances that drifted from the ledger
  watch       keep the summary on screen, refreshed by the change feed
`

func main() {
	_ = godotenv.Load()
	logging.Setup(os.Getenv("LOG_LEVEL"))
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.LoadClient()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	c, err := client.New(cfg.BaseURL, client.WithTimeout(cfg.Timeout))
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, cfg, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cfg config.ClientConfig, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	if cmd == "login" {
		email := fs.String("email", "", "account email")
		password := fs.String("password", os.Getenv("LEDGER_PASSWORD"), "account password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		resp, err := c.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Println(resp.Token)
		return nil
	}

	switch cmd {
	case "parties":
		kind := fs.String("kind", "", "customer or supplier")
		status := fs.String("status", "", "active or settled")
		search := fs.String("search", "", "name or phone substring")
		sort := fs.String("sort", "", "created_at_desc, name_asc, balance_desc, ...")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		parties, err := c.ListParties(ctx, models.PartyFilter{
			Kind: models.PartyKind(*kind), Status: models.PartyStatus(*status), Search: *search, Sort: *sort,
		})
		if err != nil {
			return err
		}
		fmt.Println(renderParties(parties))
	case "add":
		name := fs.String("name", "", "party name")
		kind := fs.String("kind", string(models.KindCustomer), "customer or supplier")
		phone := fs.String("phone", "", "phone number")
		amount := fs.String("amount", "", "opening amount, e.g. 1500.00")
		direction := fs.String("direction", string(models.ToReceive), "to_receive or to_pay")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		var opening int64
		if *amount != "" {
			var err error
			if opening, err = money.ParseMinor(*amount); err != nil {
				return err
			}
		}
		params := client.CreatePartyParams{Name: *name, Kind: models.PartyKind(*kind), Amount: opening, Direction: models.OpeningDirection(*direction)}
		if *phone != "" {
			params.Phone = phone
		}
		party, err := c.CreateParty(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s) balance %s\n", party.Name, party.ID, signedAmount(party.Balance))
	case "record":
		party := fs.String("party", "", "party id")
		amount := fs.String("amount", "", "amount, e.g. 250.00")
		direction := fs.String("direction", "", "gave or got")
		desc := fs.String("desc", "", "description")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		minor, err := money.ParseMinor(*amount)
		if err != nil {
			return err
		}
		params := client.RecordParams{PartyID: *party, Amount: minor, Direction: models.Direction(*direction)}
		if *desc != "" {
			params.Description = desc
		}
		result, err := c.RecordTransaction(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("recorded %s, balance now %s\n", result.Transaction.ID, signedAmount(result.Balance))
	case "txns":
		party := fs.String("party", "", "party id")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		txns, err := c.ListTransactions(ctx, *party)
		if err != nil {
			return err
		}
		fmt.Println(renderTransactions(txns))
	case "toggle":
		party := fs.String("party", "", "party id")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		updated, err := c.ToggleStatus(ctx, *party)
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", updated.Name, updated.Status)
	case "delete":
		party := fs.String("party", "", "party id")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		resp, err := c.DeleteParty(ctx, *party)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %s and %d transactions\n", resp.PartyID, resp.TransactionsDeleted)
	case "summary":
		width := fs.Int("width", 48, "bar width in cells")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		s, err := c.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Println(renderSummary(s, *width))
	case "remind":
		party := fs.String("party", "", "party id")
		printOnly := fs.Bool("print", false, "print the link instead of opening it")
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		resp, err := c.Reminder(ctx, *party)
		if err != nil {
			return err
		}
		link := reminder.Link{Phone: resp.Phone, Message: resp.Message, URI: resp.URI}
		if *printOnly {
			fmt.Println(link.URI)
			return nil
		}
		if err := reminder.Send(ctx, reminder.SystemOpener(), link); err != nil {
			if errors.Is(err, reminder.ErrAppUnavailable) {
				fmt.Println(link.URI)
			}
			return err
		}
	case "check":
		if err := parseAndAuth(ctx, c, cfg, fs, args); err != nil {
			return err
		}
		report, err := c.SelfCheck(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("checked %d parties, %d drifted\n", report.Checked, len(report.Drifted))
		for _, row := range report.Drifted {
			fmt.Printf("  %s %s: cached %s, ledger %s\n", row.PartyID, row.Name, row.Balance, row.LedgerBalance)
		}
	case "watch":
		interval := fs.Duration("interval", 2*time.Second, "redraw interval")
		width := fs.Int("width", 48, "bar width in cells")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return watch(ctx, c, cfg, *interval, *width)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func parseAndAuth(ctx context.Context, c *client.Client, cfg config.ClientConfig, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, err := c.Authenticate(ctx, cfg.Token)
	return err
}

// watch redraws the summary from the cache. Reads are cheap until the change
// feed invalidates them.
func watch(ctx context.Context, c *client.Client, cfg config.ClientConfig, interval time.Duration, width int) error {
	session := client.NewSession(c)
	if _, err := session.Resume(ctx, cfg.Token); err != nil {
		return err
	}
	defer session.SignOut()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s, err := c.Summary(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Print("\033[H\033[2J")
		fmt.Println(renderSummary(s, width))
		fmt.Println(faintStyle.Render("updated " + time.Now().Format(time.Kitchen) + "  ctrl-c to quit"))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func describe(err error) string {
	var verr *client.ValidationError
	var authErr *client.AuthError
	switch {
	case errors.As(err, &verr):
		return "invalid input: " + strings.TrimPrefix(verr.Error(), "validation: ")
	case errors.As(err, &authErr):
		return "not signed in: run `ledgerctl login` and export LEDGER_TOKEN"
	case client.IsTransient(err):
		return "ledger unavailable, try again: " + err.Error()
	default:
		return err.Error()
	}
}
