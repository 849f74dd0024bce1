package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fecingest/internal/envelope"
	"fecingest/internal/logging"
	"fecingest/internal/services"
	"fecingest/internal/workspace"
)

// Runner executes pipeline definitions.
type Runner struct {
	Logger    *slog.Logger
	Observers []Observer
	// Strict enables envelope validation in process_config.
	Strict bool
	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep SleepFunc
}

// NewRunner returns a runner with the given logger and observers.
func NewRunner(logger *slog.Logger, strict bool, observers ...Observer) *Runner {
	return &Runner{Logger: logger, Strict: strict, Observers: observers}
}

// Execute runs process_config followed by the definition's stages in order.
// The run ID is taken from ctx when present (services.WithRunID), otherwise a
// new UUID is assigned. Execute always returns a terminal Result.
func (r *Runner) Execute(ctx context.Context, def Definition, raw map[string]any) Result {
	runID, ok := services.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = services.WithRunID(ctx, runID)
	}
	ctx = services.WithPipeline(ctx, def.ID)

	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithContext(ctx, logger)

	run := &Run{ID: runID, Pipeline: def.ID, Logger: logger}
	result := Result{RunID: runID, Pipeline: def.ID, State: StateRunning, Started: time.Now().UTC()}

	stages := make([]Stage, 0, len(def.Stages)+1)
	stages = append(stages, Stage{Name: ProcessConfigStage, Do: r.processConfig(raw), Retry: NoRetry()})
	stages = append(stages, def.Stages...)

	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("stage_count", len(stages)),
	)

	for _, stage := range stages {
		outcome := r.executeStage(ctx, run, stage)
		result.Stages = append(result.Stages, outcome)
		if outcome.Err != nil {
			result.State = StateFailed
			result.FailedStage = stage.Name
			result.Err = &RunError{
				Pipeline: def.ID,
				Stage:    stage.Name,
				Kind:     services.Kind(outcome.Err),
				Name:     run.Envelope.Name(),
				Cycle:    run.Envelope.Cycle(),
				Cause:    outcome.Err,
			}
			break
		}
	}
	if result.State == StateRunning {
		result.State = StateSucceeded
	}

	result.Envelope = run.Envelope
	result.Paths = run.Paths
	result.Artifact = run.Artifact
	result.Finished = time.Now().UTC()

	attrs := []logging.Attr{
		logging.String("state", string(result.State)),
		logging.String(logging.FieldName, run.Envelope.Name()),
		logging.String(logging.FieldCycle, run.Envelope.Cycle()),
		logging.Duration("duration", result.Finished.Sub(result.Started)),
	}
	if result.Err != nil {
		logging.ErrorWithContext(logger, "run failed", "run_failed", append(attrs,
			logging.String("failed_stage", result.FailedStage),
			logging.String(logging.FieldErrorKind, string(result.Err.Kind)),
			logging.Error(result.Err.Cause),
			logging.String(logging.FieldErrorHint, "inspect workspace "+workspace.Key(run.Envelope)+" and rerun; setup_workspace resets it"),
		)...)
	} else {
		logger.Info("run completed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "run_complete"))...)...)
	}
	return result
}

func (r *Runner) processConfig(raw map[string]any) StageFunc {
	return func(_ context.Context, run *Run) error {
		env := envelope.FromRawMap(raw)
		run.Envelope = env
		run.Paths = workspace.Derive(env)
		if r.Strict {
			if err := env.Validate(); err != nil {
				return err
			}
		}
		if err := workspace.CheckKey(env); err != nil {
			if r.Strict {
				return err
			}
			logging.WarnWithContext(run.Logger, "workspace key is ambiguous", "workspace_key_ambiguous",
				logging.String("workspace", workspace.Key(env)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "runs with a different name/cycle split may share this workspace"),
				logging.String(logging.FieldErrorHint, "keep '_' out of cycle and path separators out of name and cycle"),
			)
		}
		if missing := env.Missing(); len(missing) > 0 {
			logging.WarnWithContext(run.Logger, "envelope has empty fields", "envelope_incomplete",
				logging.Any("missing", missing),
				logging.String(logging.FieldImpact, "workspace paths and hand-offs use empty values"),
				logging.String(logging.FieldErrorHint, "pass every conf key or enable pipelines.strict_envelope"),
			)
		}
		return nil
	}
}

func (r *Runner) executeStage(ctx context.Context, run *Run, stage Stage) StageOutcome {
	stageCtx := services.WithStage(ctx, stage.Name)
	logger := run.Logger.With(logging.String(logging.FieldStage, stage.Name))
	stageRun := *run
	stageRun.Logger = logger

	r.notifyBefore(stageCtx, &stageRun, stage.Name)
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))

	outcome := StageOutcome{Name: stage.Name}
	start := time.Now()
	policy := stage.Retry
	maxAttempts := policy.attempts()
	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		if attempt > 1 && stage.Reset != nil {
			if err := stage.Reset(stageCtx, &stageRun); err != nil {
				outcome.Err = fmt.Errorf("%w (reset before attempt %d failed: %v)", outcome.Err, attempt, err)
				break
			}
		}
		outcome.Err = callStage(stageCtx, stage, &stageRun)
		if outcome.Err == nil {
			break
		}
		if attempt >= maxAttempts || !policy.shouldRetry(outcome.Err) {
			break
		}
		wait := policy.Backoff(attempt)
		logging.WarnWithContext(logger, "stage attempt failed; retrying", "stage_retry",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", maxAttempts),
			logging.Duration("backoff", wait),
			logging.String(logging.FieldErrorKind, string(services.Kind(outcome.Err))),
			logging.Error(outcome.Err),
			logging.String(logging.FieldImpact, "stage will run again"),
		)
		if err := r.sleep(stageCtx, wait); err != nil {
			outcome.Err = fmt.Errorf("%w (retry aborted: %v)", outcome.Err, err)
			break
		}
	}
	outcome.Duration = time.Since(start)

	stageRun.Logger = run.Logger
	*run = stageRun

	if outcome.Err != nil {
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			logging.Int("attempts", outcome.Attempts),
			logging.String(logging.FieldErrorKind, string(services.Kind(outcome.Err))),
			logging.String(logging.FieldName, run.Envelope.Name()),
			logging.String(logging.FieldCycle, run.Envelope.Cycle()),
			logging.Error(outcome.Err),
		)
	} else {
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Int("attempts", outcome.Attempts),
			logging.Duration("duration", outcome.Duration),
		)
	}
	r.notifyAfter(stageCtx, run, outcome)
	return outcome
}

func callStage(ctx context.Context, stage Stage, run *Run) (err error) {
	if stage.Do == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, rec)
		}
	}()
	return stage.Do(ctx, run)
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (r *Runner) notifyBefore(ctx context.Context, run *Run, stage string) {
	for _, obs := range r.Observers {
		if err := obs.BeforeStage(ctx, run, stage); err != nil {
			logging.WarnWithContext(run.Logger, "stage observer failed", "observer_failed",
				logging.String("hook", "before_stage"),
				logging.Error(err),
				logging.String(logging.FieldImpact, "run continues; observer state may be stale"),
			)
		}
	}
}

func (r *Runner) notifyAfter(ctx context.Context, run *Run, outcome StageOutcome) {
	for _, obs := range r.Observers {
		if err := obs.AfterStage(ctx, run, outcome); err != nil {
			logging.WarnWithContext(run.Logger, "stage observer failed", "observer_failed",
				logging.String("hook", "after_stage"),
				logging.String(logging.FieldStage, outcome.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "run continues; observer state may be stale"),
			)
		}
	}
}
