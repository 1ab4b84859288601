// Package harness executes YAML conformance scenarios against a real
// sqlite-backed store and snapshots the resulting ledger hierarchy for
// golden-file comparison.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/ledger"
	"github.com/rmagee/quartet-epcis/internal/parsing"
	"github.com/rmagee/quartet-epcis/internal/store"
)

// Result captures what a scenario produced: committed ledger rows, per
// identifier event history counts, and the validation error of the final
// run, if any.
type Result struct {
	MessageIDs []uuid.UUID
	RunErr     error
	Entries    []*ledger.Entry
	History    map[string]int
}

// Run executes the scenario's runs in order against a fresh sqlite
// store in a temporary directory.
//
// A failing run stops the scenario; earlier runs stay committed, which
// is exactly the state an operator would observe. The error is captured
// in the result rather than returned, so callers can assert on it.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "quartet-harness-")
	if err != nil {
		return nil, fmt.Errorf("create scenario workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open("sqlite3", filepath.Join(dir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("open scenario store: %w", err)
	}
	defer st.Close()

	opts := []parsing.Option{parsing.WithTaskName(scenario.Name)}
	if scenario.NoRecursiveDecommission {
		opts = append(opts, parsing.WithRecursiveDecommission(false))
	}

	ctx := context.Background()
	result := &Result{History: make(map[string]int)}
	for _, run := range scenario.Runs {
		decoded := make([]epcis.Event, 0, len(run.Events))
		for i := range run.Events {
			decoded = append(decoded, run.Events[i].Event())
		}

		var messageID uuid.UUID
		var runErr error
		if scenario.Loose {
			messageID, runErr = parsing.NewParser(st, opts...).Parse(ctx, decoded)
		} else {
			messageID, runErr = parsing.NewBusinessParser(st, opts...).Parse(ctx, decoded)
		}
		if runErr != nil {
			result.RunErr = runErr
			break
		}
		result.MessageIDs = append(result.MessageIDs, messageID)
	}

	ids := scenario.identifiers()
	entries, err := st.EntriesByIdentifiers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("snapshot entries: %w", err)
	}
	result.Entries = entries
	for _, id := range ids {
		history, err := st.EventHistory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("snapshot history for %s: %w", id, err)
		}
		result.History[id] = len(history)
	}
	return result, nil
}

// ErrorCode extracts the validation error code from the result, or ""
// when every run succeeded.
func (r *Result) ErrorCode() string {
	if r.RunErr == nil {
		return ""
	}
	var ve *parsing.ValidationError
	if errors.As(r.RunErr, &ve) {
		return string(ve.Code)
	}
	return "UNEXPECTED"
}
