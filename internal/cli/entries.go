package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmagee/quartet-epcis/internal/ledger"
	"github.com/rmagee/quartet-epcis/internal/query"
)

// EntriesOptions holds flags for the entries command.
type EntriesOptions struct {
	*RootOptions
	Parent string
	Top    string
}

// EntrySummary is one ledger row in command output.
type EntrySummary struct {
	Identifier      string     `json:"identifier"`
	IsParent        bool       `json:"is_parent,omitempty"`
	Decommissioned  bool       `json:"decommissioned,omitempty"`
	LastDisposition string     `json:"last_disposition,omitempty"`
	LastEventTime   *time.Time `json:"last_event_time,omitempty"`
}

// EntriesResult is the success payload of the entries command.
type EntriesResult struct {
	Anchor  string         `json:"anchor"`
	Entries []EntrySummary `json:"entries"`
}

func (r EntriesResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d entr(ies) under %s", len(r.Entries), r.Anchor)
	for _, e := range r.Entries {
		b.WriteString("\n  ")
		b.WriteString(e.Identifier)
		if e.IsParent {
			b.WriteString("  [parent]")
		}
		if e.Decommissioned {
			b.WriteString("  [decommissioned]")
		}
		if e.LastDisposition != "" {
			fmt.Fprintf(&b, "  disposition=%s", e.LastDisposition)
		}
	}
	return b.String()
}

// NewEntriesCommand creates the entries command.
func NewEntriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntriesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List ledger entries by containment",
		Long: `List ledger entries by containment.

--parent lists the direct children of an identifier; --top lists every
entry in the containment tree below an identifier, at any depth.

Example:
  quartet entries --db ./ledger.db --parent urn:epc:id:sscc:0355555.0000000001
  quartet entries --db ./ledger.db --top urn:epc:id:sscc:0355555.0000000001`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntries(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Parent, "parent", "", "list direct children of this identifier")
	cmd.Flags().StringVar(&opts.Top, "top", "", "list all descendants of this identifier")
	cmd.MarkFlagsOneRequired("parent", "top")
	cmd.MarkFlagsMutuallyExclusive("parent", "top")

	return cmd
}

func runEntries(opts *EntriesOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
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

	q := query.NewProxy(st)
	anchor := opts.Parent
	lookup := q.EntriesByParent
	if opts.Top != "" {
		anchor = opts.Top
		lookup = q.EntriesByTop
	}

	entries, err := lookup(cmd.Context(), anchor)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			if ferr := formatter.Error("ENTRY_NOT_FOUND", err.Error(), nil); ferr != nil {
				return ferr
			}
			return NewExitError(ExitFailure, "entry not found")
		}
		return WrapExitError(ExitCommandError, "query failed", err)
	}

	return formatter.Success(EntriesResult{
		Anchor:  anchor,
		Entries: summarize(entries),
	})
}

func summarize(entries []*ledger.Entry) []EntrySummary {
	out := make([]EntrySummary, len(entries))
	for i, e := range entries {
		out[i] = EntrySummary{
			Identifier:      e.Identifier,
			IsParent:        e.IsParent,
			Decommissioned:  e.Decommissioned,
			LastDisposition: e.LastDisposition,
			LastEventTime:   e.LastEventTime,
		}
	}
	return out
}
