// Package preflight provides readiness checks for the filesystem paths and
// external services fecingest depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when a
//     required check fails.
//   - The CLI "fecingest preflight" command prints every result.
//
// The Postgres outbox check only runs when handoff.database_url is set.
package preflight
