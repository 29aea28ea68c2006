package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/client"
	"github.com/punchamoorthee/bankclient/internal/config"
	"github.com/punchamoorthee/bankclient/internal/journal"
	"github.com/punchamoorthee/bankclient/internal/logging"
)

// errReported marks an error already shown to the user; main only sets the
// exit code for it.
var errReported = errors.New("reported")

// errNoResult makes the process exit non-zero after the failure was already
// logged by the client.
var errNoResult = fmt.Errorf("%w: operation returned no result", errReported)

func reported(err error) error {
	return fmt.Errorf("%w: %w", errReported, err)
}

var (
	configPath string
	logLevel   string
	noAuth     bool
	jsonOutput bool
)

// app is what every subcommand runs against. It is built once per process in
// PersistentPreRunE.
var app struct {
	cfg     config.Config
	log     *zap.Logger
	client  *client.Client
	journal *journal.Postgres
	out     *printer
}

var rootCmd = &cobra.Command{
	Use:           "bankcli",
	Short:         "Client for the banking API: transfers, balances, history",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          legacyTransferArgs,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup(cmd.Context())
	},
	// bankcli FROM TO AMOUNT is kept as shorthand for the transfer subcommand.
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runTransfer(cmd.Context(), args)
	},
}

func legacyTransferArgs(_ *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 3 {
		return fmt.Errorf("unknown command or arguments %q: expected a subcommand or FROM TO AMOUNT", args)
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (defaults to BANKING_CONFIG)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&noAuth, "no-auth", false, "Do not send bearer tokens unless a command requires them")
	pf.BoolVar(&jsonOutput, "json", false, "Print raw JSON results")

	rootCmd.AddCommand(transferCmd, batchCmd, validateCmd, balanceCmd, accountsCmd, historyCmd, interactiveCmd, journalCmd)
}

func setup(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, color(red, "configuration error: ")+err.Error())
		return reported(err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if noAuth {
		cfg.UseAuth = false
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return reported(err)
	}
	log.Debug("configuration loaded", zap.Any("config", cfg.Redacted()))

	opts := []client.Option{client.WithLogger(log)}
	if cfg.DBSource != "" {
		pg, err := journal.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			log.Warn("journal disabled", zap.Error(err))
		} else {
			app.journal = pg
			opts = append(opts, client.WithJournal(pg))
		}
	}

	app.cfg = cfg
	app.log = log
	app.client = client.New(cfg, opts...)
	app.out = &printer{w: os.Stdout, json: jsonOutput}
	return nil
}

// teardown runs after every command, whatever it returned.
func teardown() {
	if app.client != nil {
		app.client.Close()
		app.client = nil
	}
	if app.journal != nil {
		app.journal.Close()
		app.journal = nil
	}
	if app.log != nil {
		_ = app.log.Sync()
		app.log = nil
	}
}
