package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"fecingest/internal/logging"
	"fecingest/internal/preflight"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the dispatcher until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			lock := flock.New(cfg.DaemonLockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire daemon lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another fecingest daemon holds %s", cfg.DaemonLockPath())
			}
			defer func() { _ = lock.Unlock() }()

			stamp := time.Now().UTC().Format("20060102T150405.000Z")
			logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("fecingest-%s.log", stamp))
			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           cfg.Logging.Format,
				OutputPaths:      []string{"stdout", logPath},
				ErrorOutputPaths: []string{"stderr", logPath},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
				logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "fecingest-*.log", Exclude: []string{logPath}},
			)

			if !skipPreflight {
				if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg)); len(failed) > 0 {
					for _, result := range failed {
						logger.Error("preflight check failed",
							logging.String("check", result.Name),
							logging.String("detail", result.Detail),
							logging.String(logging.FieldEventType, "preflight_failed"),
						)
					}
					return fmt.Errorf("%d preflight checks failed; run `fecingest preflight` for details", len(failed))
				}
			}

			rt, err := ctx.openRuntime(signalCtx, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			if _, err := rt.dispatcher.RecoverInterrupted(signalCtx); err != nil {
				return fmt.Errorf("recover interrupted runs: %w", err)
			}
			if err := rt.dispatcher.Start(signalCtx); err != nil {
				return err
			}
			logger.Info("fecingest daemon started",
				logging.Int("pid", os.Getpid()),
				logging.String("ledger", rt.store.Path()),
			)

			<-signalCtx.Done()
			logger.Info("fecingest daemon shutting down")
			rt.dispatcher.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start even when preflight checks fail")
	return cmd
}
