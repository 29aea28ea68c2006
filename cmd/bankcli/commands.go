package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/bankclient/internal/client"
	"github.com/punchamoorthee/bankclient/internal/domain"
)

const defaultAccountsLimit = 10

var (
	accountsLimit int
	historyLimit  int
	recentLimit   int
)

var transferCmd = &cobra.Command{
	Use:   "transfer FROM TO AMOUNT",
	Short: "Transfer funds between two accounts",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd.Context(), args)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch FILE",
	Short: "Run the transfers listed in a from,to,amount CSV file concurrently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		reqs, err := readBatch(f)
		if err != nil {
			app.out.fail("%v", err)
			return reported(err)
		}
		results := app.client.TransferBatch(cmd.Context(), reqs)
		app.out.batch(reqs, results)
		for _, r := range results {
			if r == nil {
				return errNoResult
			}
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate ID",
	Short: "Check that an account exists and is active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLookup("Account "+args[0], app.client.ValidateAccount(cmd.Context(), args[0]))
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance ID",
	Short: "Show the balance of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLookup("Balance "+args[0], app.client.GetBalance(cmd.Context(), args[0]))
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runAccounts(cmd.Context(), accountsLimit)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent transactions (authenticated)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHistory(cmd.Context(), historyLimit)
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Manage the local transfer journal (requires DB_SOURCE)",
}

var journalInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the journal table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if app.journal == nil {
			return errNoJournal()
		}
		if err := app.journal.Migrate(cmd.Context()); err != nil {
			app.out.fail("%v", err)
			return reported(err)
		}
		app.out.ok("journal ready")
		return nil
	},
}

var journalRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recently journaled transfers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if app.journal == nil {
			return errNoJournal()
		}
		entries, err := app.journal.Recent(cmd.Context(), recentLimit)
		if err != nil {
			app.out.fail("%v", err)
			return reported(err)
		}
		app.out.journal(entries)
		return nil
	},
}

func init() {
	accountsCmd.Flags().IntVar(&accountsLimit, "limit", defaultAccountsLimit, "Show at most this many accounts (0 for all)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", client.DefaultHistoryLimit, "Number of transactions (max 20)")
	journalRecentCmd.Flags().IntVar(&recentLimit, "limit", 20, "Number of entries")
	journalCmd.AddCommand(journalInitCmd, journalRecentCmd)
}

func errNoJournal() error {
	err := errors.New("journal unavailable: set DB_SOURCE to a reachable PostgreSQL database")
	app.out.fail("%v", err)
	return reported(err)
}

func runTransfer(ctx context.Context, args []string) error {
	amount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		app.out.fail("invalid amount %q", args[2])
		return reported(err)
	}
	res := app.client.Transfer(ctx, args[0], args[1], amount)
	if res == nil {
		app.out.fail("transfer could not be completed, see log")
		return errNoResult
	}
	app.out.transfer(res)
	return nil
}

func runLookup(title string, m map[string]any) error {
	if m == nil {
		app.out.fail("%s: no result, see log", title)
		return errNoResult
	}
	app.out.object(title, m)
	return nil
}

func runAccounts(ctx context.Context, limit int) error {
	list := app.client.ListAccounts(ctx)
	if list == nil {
		app.out.fail("could not list accounts, see log")
		return errNoResult
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	app.out.accounts(list)
	return nil
}

func runHistory(ctx context.Context, limit int) error {
	h := app.client.GetTransactionHistory(ctx, limit)
	if h == nil {
		app.out.fail("could not fetch history, see log")
		return errNoResult
	}
	app.out.history(h)
	return nil
}

// readBatch parses from,to,amount rows. A leading header row is skipped.
func readBatch(r io.Reader) ([]domain.TransferRequest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var reqs []domain.TransferRequest
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			if row == 1 {
				continue
			}
			return nil, fmt.Errorf("row %d: invalid amount %q", row, rec[2])
		}
		reqs = append(reqs, domain.TransferRequest{
			FromAccount: strings.TrimSpace(rec[0]),
			ToAccount:   strings.TrimSpace(rec[1]),
			Amount:      amount,
		})
	}
	if len(reqs) == 0 {
		return nil, errors.New("batch file has no transfers")
	}
	return reqs, nil
}
