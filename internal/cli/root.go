package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmagee/quartet-epcis/internal/store"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // optional yaml config file
	Database string // driver-specific DSN
	Driver   string // "sqlite3" | "postgres"

	// fileConfig holds the loaded --config file, nil when none was given.
	fileConfig *Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the quartet CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "quartet",
		Short: "quartet - EPCIS event ledger",
		Long:  "Capture EPCIS event documents into a serialized-item ledger and query the resulting hierarchy.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := opts.applyConfig(cmd); err != nil {
				return err
			}
			if !store.ValidDriver(opts.Driver) {
				return fmt.Errorf("invalid driver %q: must be one of %v", opts.Driver, store.ValidDrivers)
			}

			logLevel := slog.LevelInfo
			if opts.Verbose {
				logLevel = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			})
			slog.SetDefault(slog.New(handler))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to yaml config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database DSN (file path for sqlite3)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "sqlite3", "database driver (sqlite3|postgres)")

	// Add subcommands
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewEntriesCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// openStore opens the configured ledger database. The --db flag (or the
// config file) must name a DSN.
func openStore(opts *RootOptions) (*store.Store, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError, "no database configured: pass --db or set database in the config file")
	}
	st, err := store.Open(opts.Driver, opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
