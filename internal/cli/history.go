package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/query"
)

// EventSummary is one event in history output.
type EventSummary struct {
	Type        epcis.EventType `json:"type"`
	Action      epcis.Action    `json:"action,omitempty"`
	EventTime   time.Time       `json:"event_time"`
	BizStep     string          `json:"biz_step,omitempty"`
	Disposition string          `json:"disposition,omitempty"`
	MessageID   string          `json:"message_id"`
}

// HistoryResult is the success payload of the history command.
type HistoryResult struct {
	Identifier string         `json:"identifier"`
	Events     []EventSummary `json:"events"`
}

func (r HistoryResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s) for %s", len(r.Events), r.Identifier)
	for _, e := range r.Events {
		fmt.Fprintf(&b, "\n  %s  %s", e.EventTime.Format(time.RFC3339), e.Type)
		if e.Action != "" {
			fmt.Fprintf(&b, "/%s", e.Action)
		}
		if e.Disposition != "" {
			fmt.Fprintf(&b, "  disposition=%s", e.Disposition)
		}
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <epc>",
		Short: "Show the event history of an identifier",
		Long: `Show every event an identifier participated in, oldest first.

Example:
  quartet history --db ./ledger.db urn:epc:id:sgtin:0355555.555555.1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runHistory(opts *RootOptions, identifier string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	q := query.NewProxy(st)
	if _, err := q.Entry(cmd.Context(), identifier); err != nil {
		if errors.Is(err, query.ErrNotFound) {
			if ferr := formatter.Error("ENTRY_NOT_FOUND", err.Error(), nil); ferr != nil {
				return ferr
			}
			return NewExitError(ExitFailure, "entry not found")
		}
		return WrapExitError(ExitCommandError, "query failed", err)
	}

	events, err := q.EventHistory(cmd.Context(), identifier)
	if err != nil {
		return WrapExitError(ExitCommandError, "query failed", err)
	}

	summaries := make([]EventSummary, len(events))
	for i, e := range events {
		summaries[i] = EventSummary{
			Type:        e.Type,
			Action:      e.Action,
			EventTime:   e.EventTime,
			BizStep:     e.BizStep,
			Disposition: e.Disposition,
			MessageID:   e.MessageID.String(),
		}
	}

	return formatter.Success(HistoryResult{
		Identifier: identifier,
		Events:     summaries,
	})
}
