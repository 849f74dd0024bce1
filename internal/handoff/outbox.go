package handoff

import (
	"context"
	"log/slog"

	"fecingest/internal/envelope"
	"fecingest/internal/logging"
	"fecingest/internal/services"
)

// Recorder persists hand-off records. Insert reports false when a record with
// the same idempotency key already exists.
type Recorder interface {
	InsertHandoff(ctx context.Context, record Record) (bool, error)
}

// Outbox records hand-offs for targets that run outside this process. The
// external scheduler drains the table.
type Outbox struct {
	recorder Recorder
	backend  string
	logger   *slog.Logger
}

// NewLedgerOutbox writes to the local SQLite ledger.
func NewLedgerOutbox(recorder Recorder, logger *slog.Logger) *Outbox {
	return newOutbox(recorder, "ledger", logger)
}

func newOutbox(recorder Recorder, backend string, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Outbox{recorder: recorder, backend: backend, logger: logger}
}

func (o *Outbox) Trigger(ctx context.Context, target string, env envelope.Envelope) error {
	if o == nil || o.recorder == nil {
		return services.Wrap(services.ErrHandoff, "handoff", "outbox", "outbox not initialized", nil)
	}
	record := NewRecord(ctx, target, env)
	inserted, err := o.recorder.InsertHandoff(ctx, record)
	if err != nil {
		return services.Wrap(services.ErrHandoff, "handoff", "record "+target, o.backend, err)
	}
	logger := logging.WithContext(ctx, o.logger)
	if !inserted {
		logger.Info("duplicate handoff ignored",
			logging.String(logging.FieldEventType, "handoff_duplicate"),
			logging.String("target", target),
			logging.String("idempotency_key", record.IdempotencyKey),
		)
		return nil
	}
	logger.Info("handoff recorded",
		logging.String(logging.FieldEventType, "handoff_recorded"),
		logging.String("target", target),
		logging.String("backend", o.backend),
		logging.String(logging.FieldName, env.Name()),
		logging.String(logging.FieldCycle, env.Cycle()),
	)
	return nil
}
