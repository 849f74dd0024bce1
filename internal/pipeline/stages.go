package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fecingest/internal/envelope"
	"fecingest/internal/handoff"
	"fecingest/internal/logging"
	"fecingest/internal/services"
	"fecingest/internal/workspace"
)

// Stage names shared by the concrete pipelines.
const (
	StageStart          = "start"
	StageStop           = "stop"
	StageSetupWorkspace = "setup_workspace"
	StageConnectivity   = "connectivity_check"
	StageTransform      = "transform"
	StageHandoff        = "handoff"
)

// Transform produces the run's artifact inside the workspace. env is the
// run's own envelope, from which paths was derived. Any error fails the
// current stage; the runner does not interpret the cause.
type Transform interface {
	Run(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error)
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error)

func (f TransformFunc) Run(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error) {
	return f(ctx, env, paths)
}

// Barrier is a no-op stage. It exists so observers see the run boundaries.
func Barrier(name string) Stage {
	return Stage{Name: name, Retry: NoRetry()}
}

// SetupWorkspaceStage resets the run's workspace directories.
func SetupWorkspaceStage(policy RetryPolicy) Stage {
	return Stage{
		Name:  StageSetupWorkspace,
		Retry: policy,
		Do:    ResetWorkspace,
	}
}

// ResetWorkspace recreates the run's workspace so a retried attempt starts
// from empty directories.
func ResetWorkspace(_ context.Context, run *Run) error {
	return workspace.Setup(run.Paths)
}

// CheckStage runs a precondition that needs no workspace, such as a
// connectivity probe.
func CheckStage(name string, check func(ctx context.Context) error, policy RetryPolicy) Stage {
	return Stage{
		Name:  name,
		Retry: policy,
		Do: func(ctx context.Context, _ *Run) error {
			if err := check(ctx); err != nil {
				return markTransform(name, err)
			}
			return nil
		},
	}
}

// TransformStage runs t and records its artifact on the run. Errors that carry
// no marker are tagged as transform errors.
func TransformStage(t Transform, policy RetryPolicy) Stage {
	return Stage{
		Name:  StageTransform,
		Retry: policy,
		Do: func(ctx context.Context, run *Run) error {
			artifact, err := t.Run(ctx, run.Envelope, run.Paths)
			if err != nil {
				return markTransform(StageTransform, err)
			}
			run.Artifact = artifact
			run.Logger.Info("transform produced artifact",
				logging.String(logging.FieldEventType, "artifact_ready"),
				logging.String("artifact", artifact),
			)
			return nil
		},
	}
}

// RequireOutputArtifact wraps t so it fails unless the returned artifact is
// exactly paths.OutputArtifactPath() and that file exists.
func RequireOutputArtifact(t Transform) Transform {
	return TransformFunc(func(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error) {
		artifact, err := t.Run(ctx, env, paths)
		if err != nil {
			return "", err
		}
		want := paths.OutputArtifactPath()
		if artifact != want {
			return "", services.Wrap(services.ErrTransform, StageTransform, "verify artifact",
				fmt.Sprintf("artifact %q does not match workspace output %q", artifact, want), nil)
		}
		info, err := os.Stat(want)
		if err != nil {
			return "", services.Wrap(services.ErrTransform, StageTransform, "verify artifact", "", err)
		}
		if info.IsDir() {
			return "", services.Wrap(services.ErrTransform, StageTransform, "verify artifact", want+" is a directory", nil)
		}
		return artifact, nil
	})
}

// HandoffStage forwards the run's own envelope to target. The trigger returns
// once the submission is accepted.
func HandoffStage(trigger handoff.Trigger, target string, policy RetryPolicy) Stage {
	return Stage{
		Name:  StageHandoff,
		Retry: policy,
		Do: func(ctx context.Context, run *Run) error {
			if trigger == nil {
				return services.Wrap(services.ErrHandoff, StageHandoff, "trigger "+target, "no trigger configured", nil)
			}
			if err := trigger.Trigger(ctx, target, run.Envelope); err != nil {
				if errors.Is(err, services.ErrHandoff) {
					return err
				}
				return services.Wrap(services.ErrHandoff, StageHandoff, "trigger "+target, "", err)
			}
			run.Logger.Info("handoff submitted",
				logging.String(logging.FieldEventType, "handoff_submitted"),
				logging.String("target", target),
			)
			return nil
		},
	}
}

func markTransform(stage string, err error) error {
	if errors.Is(err, services.ErrTransform) {
		return err
	}
	return services.Wrap(services.ErrTransform, stage, "", "", err)
}
