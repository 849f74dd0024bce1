package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fecingest/internal/config"
	"fecingest/internal/ledger"
	"fecingest/internal/pipeline"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var pipelineID string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ledger.ListOptions{Pipeline: strings.TrimSpace(pipelineID), Limit: limit}
			for _, raw := range statuses {
				state, err := parseState(raw)
				if err != nil {
					return err
				}
				opts.Statuses = append(opts.Statuses, state)
			}
			return ctx.withLedger(func(_ *config.Config, store *ledger.Store) error {
				runs, err := store.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, runViews(runs))
				}
				printRunTable(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, running, succeeded, failed)")
	cmd.Flags().StringVarP(&pipelineID, "pipeline", "p", "", "Filter by pipeline")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum runs to show (0 for all)")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>...",
		Short: "Return failed runs to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(_ *config.Config, store *ledger.Store) error {
				out := cmd.OutOrStdout()
				var missed []string
				for _, id := range args {
					ok, err := store.Retry(cmd.Context(), id)
					if err != nil {
						return err
					}
					if !ok {
						missed = append(missed, id)
						continue
					}
					fmt.Fprintf(out, "Run %s queued for retry\n", id)
				}
				if len(missed) > 0 {
					return fmt.Errorf("not retried (unknown or not failed): %s", strings.Join(missed, ", "))
				}
				return nil
			})
		},
	}
}

func newHandoffsCommand(ctx *commandContext) *cobra.Command {
	var target string
	var limit int

	cmd := &cobra.Command{
		Use:   "handoffs",
		Short: "List hand-offs recorded for external pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				if strings.TrimSpace(cfg.Handoff.DatabaseURL) != "" && !ctx.JSONMode() {
					fmt.Fprintln(cmd.OutOrStdout(), "Note: handoff.database_url is set; new hand-offs go to Postgres, not the local outbox.")
				}
				records, err := store.ListHandoffs(cmd.Context(), strings.TrimSpace(target), limit)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, handoffViews(records))
				}
				printHandoffTable(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Filter by downstream target")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum records to show (0 for all)")
	return cmd
}

func parseState(raw string) (pipeline.State, error) {
	state := pipeline.State(strings.ToLower(strings.TrimSpace(raw)))
	switch state {
	case pipeline.StatePending, pipeline.StateRunning, pipeline.StateSucceeded, pipeline.StateFailed:
		return state, nil
	}
	return "", errors.New("unknown status " + raw)
}
