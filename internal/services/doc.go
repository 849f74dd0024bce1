// Package services defines shared utilities consumed by the pipeline stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, pipeline identifiers, stage names,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that tag failures with the
//     kind reported to operators (workspace, transform, upload, handoff).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipelines.
package services
