// Package handoff forwards a finished run's envelope to a downstream pipeline.
//
// A Trigger returns as soon as the submission is accepted (persisted or
// queued); it never waits for the downstream run to start or finish. Every
// submission carries an idempotency key derived from the target, the envelope
// hash, and the upstream run ID, so a retried hand-off stage produces at most
// one downstream invocation.
//
// Implementations:
//   - Router dispatches by target ID with an optional fallback.
//   - LedgerOutbox records external hand-offs in the local SQLite ledger.
//   - PostgresOutbox records external hand-offs in a Postgres trigger table.
//   - Func adapts a plain function.
package handoff
