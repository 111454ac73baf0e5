// Package cli implements the healthvault command-line interface: inspection
// and maintenance tooling for the encrypted record store and the pending
// operation queue.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/dkurilko/healthvault/internal/config"
	"github.com/dkurilko/healthvault/internal/keystore"
	"github.com/dkurilko/healthvault/internal/logging"
	"github.com/dkurilko/healthvault/internal/recovery"
	"github.com/dkurilko/healthvault/internal/store"
	"github.com/dkurilko/healthvault/internal/store/records"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Passphrase bool   // prompt for the key passphrase
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the healthvault CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "healthvault",
		Short: "Local encrypted health record store",
		Long:  "Maintenance tooling for the encrypted record store: corruption scans, recovery, cleanup and queue management.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Passphrase, "passphrase", "p", false, "prompt for the key passphrase")

	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) logger(cmd *cobra.Command) logging.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return logging.NewTextLogger(cmd.ErrOrStderr(), level)
}

// app bundles the opened database, key and configuration for one command
// invocation.
type app struct {
	cfg  *config.Config
	log  logging.Logger
	db   *sql.DB
	repo *records.SQLiteRepository
	key  []byte
}

// openApp loads the configuration, obtains the encryption key and opens the
// database. Callers must Close.
func (o *RootOptions) openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg := config.LoadConfig()
	log := o.logger(cmd)

	var ksOpts []keystore.Option
	if o.Passphrase {
		pass, err := promptPassphrase(cmd)
		if err != nil {
			return nil, err
		}
		ksOpts = append(ksOpts, keystore.WithPassphrase(pass))
	}

	ks := keystore.NewFileKeyStore(cfg.DataDir, ksOpts...)
	key, err := ks.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	db, err := store.InitDatabase(ctx, cfg.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabaseFile, err)
	}

	return &app{
		cfg:  cfg,
		log:  log,
		db:   db,
		repo: records.NewSQLiteRepository(db),
		key:  key,
	}, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) scanner() *recovery.Scanner {
	return recovery.NewScanner(a.repo, a.key, a.log)
}

func promptPassphrase(cmd *cobra.Command) ([]byte, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
	pass, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pass, nil
}
