package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/parsing"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Loose bool
	Task  string
}

// IngestResult is the success payload of the ingest command.
type IngestResult struct {
	MessageID string `json:"message_id"`
	Events    int    `json:"events"`
}

func (r IngestResult) String() string {
	return fmt.Sprintf("ingested %d event(s), message %s", r.Events, r.MessageID)
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Capture an EPCIS event document into the ledger",
		Long: `Capture a JSON EPCIS event document into the ledger.

Events are processed in document order inside one run. A run is
all-or-nothing: if any event is rejected, nothing from the document is
committed.

Example:
  quartet ingest --db ./ledger.db shipment.json
  quartet ingest --db ./ledger.db --loose observations.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Loose, "loose", false, "record entries and stamps without business rule checks or hierarchy changes")
	cmd.Flags().StringVar(&opts.Task, "task", "", "task name recorded on entry associations")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open document", err)
	}
	defer f.Close()

	doc, err := epcis.DecodeDocument(f)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode document", err)
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	parserOpts := opts.parserOptions()
	var messageID uuid.UUID
	if opts.Loose {
		messageID, err = parsing.NewParser(st, parserOpts...).Parse(cmd.Context(), doc.Events)
	} else {
		messageID, err = parsing.NewBusinessParser(st, parserOpts...).Parse(cmd.Context(), doc.Events)
	}
	if err != nil {
		var verr *parsing.ValidationError
		if errors.As(err, &verr) {
			if ferr := formatter.Error(string(verr.Code), err.Error(), verr.Identifiers); ferr != nil {
				return ferr
			}
			return NewExitError(ExitFailure, "document rejected")
		}
		return WrapExitError(ExitCommandError, "ingest failed", err)
	}

	return formatter.Success(IngestResult{
		MessageID: messageID.String(),
		Events:    len(doc.Events),
	})
}

// parserOptions builds engine options from flags plus the config file.
func (o *IngestOptions) parserOptions() []parsing.Option {
	var parserOpts []parsing.Option
	task := o.Task
	cfg := o.fileConfig
	if cfg != nil {
		if task == "" {
			task = cfg.TaskName
		}
		if cfg.EventCacheSize > 0 {
			parserOpts = append(parserOpts, parsing.WithEventCacheSize(cfg.EventCacheSize))
		}
		if cfg.RecursiveDecommission != nil {
			parserOpts = append(parserOpts, parsing.WithRecursiveDecommission(*cfg.RecursiveDecommission))
		}
	}
	if task != "" {
		parserOpts = append(parserOpts, parsing.WithTaskName(task))
	}
	return parserOpts
}
