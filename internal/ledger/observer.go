package ledger

import (
	"context"

	"fecingest/internal/pipeline"
)

// StageRecorder is a pipeline observer that stores the current stage of a
// run so `fecingest runs` shows where in-flight runs are.
type StageRecorder struct {
	store *Store
}

// NewStageRecorder returns an observer writing to store.
func NewStageRecorder(store *Store) *StageRecorder {
	return &StageRecorder{store: store}
}

func (r *StageRecorder) BeforeStage(ctx context.Context, run *pipeline.Run, stage string) error {
	if r == nil || r.store == nil || run == nil {
		return nil
	}
	return r.store.UpdateStage(ctx, run.ID, stage)
}

func (r *StageRecorder) AfterStage(context.Context, *pipeline.Run, pipeline.StageOutcome) error {
	return nil
}
