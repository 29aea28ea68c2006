package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const interactiveHelp = `Commands:
  transfer FROM TO AMOUNT   move funds
  balance ID                show a balance
  validate ID               check an account
  accounts [LIMIT]          list accounts
  history [LIMIT]           recent transactions
  refresh                   fetch a new token
  help                      this text
  quit                      leave`

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Run commands from a prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return interactive(cmd.Context(), os.Stdin, os.Stdout)
	},
}

// interactive keeps going after failed operations; they are reported and the
// prompt comes back.
func interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, color(bold, "Banking client")+" ("+app.cfg.BaseURL+")")
	fmt.Fprintln(out, interactiveHelp)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]

		switch cmd {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			fmt.Fprintln(out, interactiveHelp)
		case "transfer":
			if len(args) != 3 {
				app.out.warn("usage: transfer FROM TO AMOUNT")
				continue
			}
			_ = runTransfer(ctx, args)
		case "balance", "validate":
			if len(args) != 1 {
				app.out.warn("usage: %s ID", cmd)
				continue
			}
			if cmd == "balance" {
				_ = runLookup("Balance "+args[0], app.client.GetBalance(ctx, args[0]))
			} else {
				_ = runLookup("Account "+args[0], app.client.ValidateAccount(ctx, args[0]))
			}
		case "accounts":
			_ = runAccounts(ctx, optionalInt(args, 0))
		case "history":
			_ = runHistory(ctx, optionalInt(args, 0))
		case "refresh":
			if app.client.RefreshToken(ctx) {
				app.out.ok("token refreshed")
			} else {
				app.out.fail("token refresh failed, see log")
			}
		default:
			app.out.warn("unknown command %q, type help", cmd)
		}
	}
}

func optionalInt(args []string, def int) int {
	if len(args) == 0 {
		return def
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return def
	}
	return n
}
