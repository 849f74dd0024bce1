package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fecingest/internal/ledger"
	"fecingest/internal/logging"
	"fecingest/internal/notifications"
	"fecingest/internal/pipeline"
	"fecingest/internal/services"
)

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With(logging.Int("worker", id))
	lastSweep := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d.stuckAfter > 0 && time.Since(lastSweep) >= d.stuckAfter/4 {
			lastSweep = time.Now()
			if reset, err := d.store.ResetStuck(ctx, d.stuckAfter); err != nil {
				logger.Warn("stuck run sweep failed; stuck runs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "stuck_sweep_failed"),
					logging.String(logging.FieldErrorHint, "check ledger database access"),
				)
			} else if reset > 0 {
				logger.Info("stuck runs requeued", logging.Int64("count", reset))
			}
		}

		run, err := d.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.setLastError(err)
			logger.Error("failed to claim next run",
				logging.Error(err),
				logging.String(logging.FieldEventType, "ledger_claim_failed"),
				logging.String(logging.FieldErrorHint, "check ledger database access"),
			)
			d.wait(ctx)
			continue
		}
		if run == nil {
			d.wait(ctx)
			continue
		}
		d.process(ctx, run)
	}
}

func (d *Dispatcher) wait(ctx context.Context) {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-d.wake:
	case <-timer.C:
	}
}

func (d *Dispatcher) process(ctx context.Context, run *ledger.Run) {
	logger := d.logger.With(
		logging.String(logging.FieldRunID, run.ID),
		logging.String(logging.FieldPipeline, run.Pipeline),
	)
	d.setLastRun(run)

	release, ok, err := d.locks.TryLock(run.WorkspaceKey)
	if err != nil {
		d.complete(ctx, run, failedResult(run, pipeline.ProcessConfigStage,
			services.Wrap(services.ErrWorkspace, pipeline.ProcessConfigStage, "lock", run.WorkspaceKey, err)))
		return
	}
	if !ok {
		logger.Info("workspace busy; run deferred",
			logging.String(logging.FieldEventType, "run_deferred"),
			logging.String("workspace", run.WorkspaceKey),
			logging.Duration("retry_in", d.pollInterval),
		)
		if err := d.store.Requeue(context.WithoutCancel(ctx), run.ID, run.Claims, time.Now().Add(d.pollInterval)); err != nil {
			d.setLastError(err)
			logger.Error("failed to defer run", logging.Error(err))
		}
		return
	}
	defer release()

	d.mu.RLock()
	catalog := d.catalog
	d.mu.RUnlock()
	def, err := catalog.Get(run.Pipeline)
	if err != nil {
		d.complete(ctx, run, failedResult(run, pipeline.ProcessConfigStage,
			services.Wrap(services.ErrConfiguration, pipeline.ProcessConfigStage, "resolve pipeline", "", err)))
		return
	}

	runCtx := services.WithRunID(ctx, run.ID)
	if run.UpstreamRunID != "" {
		runCtx = services.WithRequestID(runCtx, run.UpstreamRunID)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go d.heartbeatLoop(hbCtx, &hbWG, run, logger)
	result := d.runner.Execute(runCtx, def, run.Conf)
	stopHeartbeat()
	hbWG.Wait()

	d.complete(ctx, run, result)
}

// heartbeatLoop keeps the run's ledger row fresh until ctx ends or the claim
// is lost.
func (d *Dispatcher) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, run *ledger.Run, logger *slog.Logger) {
	defer wg.Done()
	if d.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(d.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.store.Heartbeat(ctx, run.ID, run.Claims)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, ledger.ErrClaimLost):
				logger.Warn("run claim lost; heartbeat stopped",
					logging.String(logging.FieldEventType, "claim_lost"),
					logging.String(logging.FieldImpact, "the result of this attempt will not be recorded"),
				)
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}

func failedResult(run *ledger.Run, stage string, err error) pipeline.Result {
	env := run.Envelope()
	now := time.Now().UTC()
	return pipeline.Result{
		RunID:       run.ID,
		Pipeline:    run.Pipeline,
		State:       pipeline.StateFailed,
		FailedStage: stage,
		Err: &pipeline.RunError{
			Pipeline: run.Pipeline,
			Stage:    stage,
			Kind:     services.Kind(err),
			Name:     env.Name(),
			Cycle:    env.Cycle(),
			Cause:    err,
		},
		Envelope: env,
		Started:  now,
		Finished: now,
	}
}

// complete records result even when ctx was cancelled mid-run, so shutdown
// leaves a terminal row rather than a stuck one.
func (d *Dispatcher) complete(ctx context.Context, run *ledger.Run, result pipeline.Result) {
	persistCtx := context.WithoutCancel(ctx)
	if err := d.store.Complete(persistCtx, run.ID, run.Claims, result); errors.Is(err, ledger.ErrClaimLost) {
		d.logger.Warn("run claim lost; result discarded",
			logging.String(logging.FieldRunID, run.ID),
			logging.String("state", string(result.State)),
			logging.String(logging.FieldEventType, "claim_lost"),
			logging.String(logging.FieldImpact, "another worker owns or finished this run"),
		)
		return
	} else if err != nil {
		d.setLastError(err)
		d.logger.Error("failed to record run result",
			logging.String(logging.FieldRunID, run.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ledger_complete_failed"),
			logging.String(logging.FieldImpact, "run stays running until the stuck sweep requeues it"),
		)
	}

	report := notifications.RunReport{
		RunID:    run.ID,
		Pipeline: run.Pipeline,
		Name:     result.Envelope.Name(),
		Cycle:    result.Envelope.Cycle(),
		Duration: result.Finished.Sub(result.Started),
	}
	var notifyErr error
	if result.Err != nil {
		d.setLastError(result.Err)
		report.FailedStage = result.FailedStage
		report.ErrorKind = string(result.Err.Kind)
		if result.Err.Cause != nil {
			report.Message = result.Err.Cause.Error()
		}
		notifyErr = d.notifier.NotifyRunFailed(persistCtx, report)
	} else {
		notifyErr = d.notifier.NotifyRunSucceeded(persistCtx, report)
	}
	if notifyErr != nil {
		d.logger.Warn("run notification failed",
			logging.String(logging.FieldRunID, run.ID),
			logging.Error(notifyErr),
			logging.String(logging.FieldEventType, "notification_failed"),
		)
	}
}
