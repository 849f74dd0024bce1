// Package dispatch is the local scheduler for fecingest pipelines.
//
// Runs are rows in the SQLite ledger. A fixed pool of workers claims pending
// rows, takes a per-workspace file lock, executes the pipeline, and writes
// the terminal state back. The Dispatcher also implements handoff.Trigger:
// hand-offs to local pipelines become pending ledger rows keyed by the
// hand-off idempotency key, and hand-offs to any other target go to the
// external outbox. Trigger returns once the row is committed; it never waits
// for the downstream run.
package dispatch
