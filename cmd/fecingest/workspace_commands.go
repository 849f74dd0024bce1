package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fecingest/internal/config"
	"fecingest/internal/dispatch"
	"fecingest/internal/ledger"
	"fecingest/internal/pipeline"
	"fecingest/internal/staging"
)

func newWorkspaceCommand(ctx *commandContext) *cobra.Command {
	workspaceCmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect and prune run workspaces under temp_dir",
	}

	workspaceCmd.AddCommand(newWorkspaceListCommand(ctx))
	workspaceCmd.AddCommand(newWorkspaceCleanCommand(ctx))

	return workspaceCmd
}

func newWorkspaceListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List run workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dirs, err := staging.ListDirectories(cfg.Paths.TempDir)
			if err != nil {
				return fmt.Errorf("list workspaces: %w", err)
			}

			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}
			if ctx.JSONMode() {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"temp_dir":         cfg.Paths.TempDir,
					"workspaces":       dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No workspaces found")
				return nil
			}
			fmt.Fprintf(out, "Workspace root: %s\n\n", cfg.Paths.TempDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{
					dir.Key,
					formatDuration(time.Since(dir.ModTime).Truncate(time.Minute)),
					formatBytes(dir.Size),
					yesNo(dir.HasOutput),
				})
			}
			fmt.Fprintln(out, renderTable(workspaceColumns, rows))
			fmt.Fprintf(out, "\nTotal: %d workspaces, %s\n", len(dirs), formatBytes(totalSize))
			return nil
		},
	}
}

func newWorkspaceCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale workspaces",
		Long: `Remove workspaces older than --max-age.

Workspaces of pending or running ledger runs, and workspaces locked by a
running pipeline, are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				runs, err := store.List(cmd.Context(), ledger.ListOptions{
					Statuses: []pipeline.State{pipeline.StatePending, pipeline.StateRunning},
				})
				if err != nil {
					return err
				}
				active := make(map[string]struct{}, len(runs))
				for _, run := range runs {
					active[run.WorkspaceKey] = struct{}{}
				}

				logger, err := ctx.logger()
				if err != nil {
					return err
				}
				result := staging.CleanStale(cmd.Context(), cfg.Paths.TempDir, maxAge,
					dispatch.NewKeyLocks(cfg.LockDir()), active, logger)

				if ctx.JSONMode() {
					errs := make([]map[string]string, 0, len(result.Errors))
					for _, e := range result.Errors {
						errs = append(errs, map[string]string{"path": e.Path, "error": e.Error.Error()})
					}
					return writeJSON(cmd, map[string]any{
						"removed": result.Removed,
						"skipped": result.Skipped,
						"errors":  errs,
					})
				}
				out := cmd.OutOrStdout()
				for _, path := range result.Removed {
					fmt.Fprintf(out, "Removed %s\n", path)
				}
				for _, path := range result.Skipped {
					fmt.Fprintf(out, "Kept %s (in use)\n", path)
				}
				for _, e := range result.Errors {
					fmt.Fprintf(out, "Failed %s: %v\n", e.Path, e.Error)
				}
				if len(result.Removed) == 0 && len(result.Errors) == 0 {
					fmt.Fprintln(out, "No stale workspaces")
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d workspaces could not be removed", len(result.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Remove workspaces older than this")
	return cmd
}
