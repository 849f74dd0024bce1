// Package ledger persists pipeline runs and external hand-offs in SQLite.
//
// The ledger gives the local dispatcher the durability a hand-off relies on:
// every submitted run is a row keyed by an idempotency key, so a duplicate
// identical hand-off inserts nothing. Workers claim pending rows atomically,
// stage progress is recorded through the pipeline observer hooks, and the
// terminal state plus failing stage is written when a run finishes. Hand-offs
// to pipelines that run elsewhere land in the handoffs outbox table.
package ledger
