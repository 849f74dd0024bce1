package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fecingest/internal/ledger"
	"fecingest/internal/logging"
	"fecingest/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags confFlags

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline and its downstream chain in the foreground",
		Long: `Enqueue a run, then process the ledger until no run is pending or running.

Runs queued earlier (for example by "fecingest submit") are processed too. The
command exits with status 1 when any run of the submitted chain failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := flags.build()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			rt, err := ctx.openRuntime(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer rt.close()

			started := time.Now()
			root, err := rt.dispatcher.Submit(cmd.Context(), args[0], conf)
			if err != nil {
				return err
			}
			if err := rt.dispatcher.Drain(cmd.Context()); err != nil {
				return fmt.Errorf("drain: %w", err)
			}

			// Fresh context: the command context may be cancelled by now.
			readCtx := context.WithoutCancel(cmd.Context())
			chain, err := collectChain(readCtx, rt.store, root.ID)
			if err != nil {
				return err
			}
			failed := countFailed(chain)
			if notifyErr := rt.dispatcher.Notifier().NotifyDrainCompleted(readCtx, len(chain), failed, time.Since(started)); notifyErr != nil {
				logger.Warn("drain notification failed", logging.Error(notifyErr))
			}

			if ctx.JSONMode() {
				if err := writeJSON(cmd, runViews(chain)); err != nil {
					return err
				}
			} else {
				printRunTable(cmd.OutOrStdout(), chain)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(chain))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags confFlags

	cmd := &cobra.Command{
		Use:   "submit <pipeline>",
		Short: "Queue a pipeline run for the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := flags.build()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			rt, err := ctx.openRuntime(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer rt.close()

			run, err := rt.dispatcher.Submit(cmd.Context(), args[0], conf)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, newRunView(run))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s run %s (%s)\n", run.Pipeline, run.ID, run.WorkspaceKey)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// collectChain returns rootID and every run it handed off to, breadth first.
func collectChain(ctx context.Context, store *ledger.Store, rootID string) ([]*ledger.Run, error) {
	root, err := store.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, errors.New("submitted run not found in ledger")
	}
	chain := []*ledger.Run{root}
	for i := 0; i < len(chain); i++ {
		children, err := store.Children(ctx, chain[i].ID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, children...)
	}
	return chain, nil
}

func countFailed(runs []*ledger.Run) int {
	failed := 0
	for _, run := range runs {
		if run.Status != pipeline.StateSucceeded {
			failed++
		}
	}
	return failed
}
