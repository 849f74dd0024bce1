package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fecingest/internal/envelope"
	"fecingest/internal/workspace"
)

// State is the lifecycle state of a run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether s is succeeded or failed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ProcessConfigStage is the name of the built-in first stage.
const ProcessConfigStage = "process_config"

// Run is the per-run state shared by stages. Envelope and Paths are set by
// process_config before any definition stage executes.
type Run struct {
	ID       string
	Pipeline string
	Envelope envelope.Envelope
	Paths    workspace.Paths
	// Artifact is the transform output (a local path or remote key).
	Artifact string
	Logger   *slog.Logger
}

// StageFunc performs one stage. It must be safe to call again after a failure
// when the stage's retry policy allows more than one attempt.
type StageFunc func(ctx context.Context, run *Run) error

// Stage is one named link of the chain.
type Stage struct {
	Name  string
	Do    StageFunc
	Retry RetryPolicy
	// Reset runs before every retried attempt. A failing Reset ends the stage.
	Reset StageFunc
}

// WithReset returns a copy of s that runs reset before each retried attempt.
func (s Stage) WithReset(reset StageFunc) Stage {
	s.Reset = reset
	return s
}

// Definition is an ordered stage chain.
type Definition struct {
	ID     string
	Stages []Stage
}

// StageOutcome records how one stage finished.
type StageOutcome struct {
	Name     string
	Attempts int
	Duration time.Duration
	Err      error
}

// Result is the terminal report of a run.
type Result struct {
	RunID       string
	Pipeline    string
	State       State
	FailedStage string
	Err         *RunError
	Envelope    envelope.Envelope
	Paths       workspace.Paths
	Artifact    string
	Stages      []StageOutcome
	Started     time.Time
	Finished    time.Time
}

// Succeeded reports whether the run reached the succeeded state.
func (r Result) Succeeded() bool {
	return r.State == StateSucceeded
}

// Error returns the run error as a plain error, or nil on success.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Observer receives hooks around every stage, including process_config and
// the barriers. Observer errors are logged and never fail the run.
type Observer interface {
	BeforeStage(ctx context.Context, run *Run, stage string) error
	AfterStage(ctx context.Context, run *Run, outcome StageOutcome) error
}
