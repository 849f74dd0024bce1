// Package pipeline executes one pipeline run: a strict linear chain of named
// stages, each wrapped in a bounded retry policy.
//
// Every run begins with the built-in process_config stage, which builds the
// immutable envelope from the raw conf map and derives the workspace paths.
// Later stages receive both through *Run and never re-read the raw conf. A
// stage failure marks the run failed and no later stage executes. The runner
// does not create its own cancellation; the caller's context flows through for
// I/O and logging only.
package pipeline
