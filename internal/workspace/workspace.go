// Package workspace derives the per-run directory layout from an envelope and
// resets it idempotently before each attempt.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"fecingest/internal/envelope"
	"fecingest/internal/services"
)

// CleanedArtifactName is the file the cleaning pass writes under DataDir.
const CleanedArtifactName = "cleaned_data.txt"

// Paths is the read-only layout for one run:
//
//	{temp_dir}/{name}_{cycle}/in/
//	{temp_dir}/{name}_{cycle}/in/data/cleaned_data.txt
//	{temp_dir}/{name}_{cycle}/out/{run_date}_{name}_{cycle}{extension}
type Paths struct {
	Root                string
	InputDir            string
	OutputDir           string
	DataDir             string
	CleanedArtifactPath string
	OutputArtifactName  string
}

// OutputArtifactPath is where the transform must leave its final artifact.
func (p Paths) OutputArtifactPath() string {
	return filepath.Join(p.OutputDir, p.OutputArtifactName)
}

// Key returns the {name}_{cycle} isolation key. Two runs with the same key
// share a workspace and must not execute concurrently. The key is only
// unambiguous when the cycle has no underscore: ("a_b", "c") and ("a", "b_c")
// both map to "a_b_c". CheckKey reports such envelopes.
func Key(env envelope.Envelope) string {
	return env.Name() + "_" + env.Cycle()
}

// CheckKey reports envelopes whose name or cycle would make Key ambiguous or
// move the workspace outside temp_dir: an underscore in the cycle, a path
// separator, or a "." or ".." element.
func CheckKey(env envelope.Envelope) error {
	var problems []string
	if strings.Contains(env.Cycle(), "_") {
		problems = append(problems, fmt.Sprintf("cycle %q contains '_'", env.Cycle()))
	}
	for _, field := range []struct{ key, value string }{{"name", env.Name()}, {"cycle", env.Cycle()}} {
		if strings.ContainsAny(field.value, `/\`) {
			problems = append(problems, fmt.Sprintf("%s %q contains a path separator", field.key, field.value))
		}
		if field.value == "." || field.value == ".." {
			problems = append(problems, fmt.Sprintf("%s %q is a relative path element", field.key, field.value))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "process_config", "check workspace key",
		strings.Join(problems, "; "), nil)
}

// Derive is a pure function of the envelope.
func Derive(env envelope.Envelope) Paths {
	root := filepath.Join(env.TempDir(), Key(env))
	input := filepath.Join(root, "in")
	data := filepath.Join(input, "data")
	return Paths{
		Root:                root,
		InputDir:            input,
		OutputDir:           filepath.Join(root, "out"),
		DataDir:             data,
		CleanedArtifactPath: filepath.Join(data, CleanedArtifactName),
		OutputArtifactName:  fmt.Sprintf("%s_%s_%s%s", env.RunDate(), env.Name(), env.Cycle(), env.Extension()),
	}
}

// Setup removes the input, output, and data directories if they exist and
// recreates them empty, in that order. Running it twice leaves the same state
// as running it once. Failures are not rolled back.
func Setup(paths Paths) error {
	dirs := []string{paths.InputDir, paths.OutputDir, paths.DataDir}
	for _, dir := range dirs {
		if dir == "" {
			return services.Wrap(services.ErrWorkspace, "setup_workspace", "validate", "empty workspace path", nil)
		}
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrWorkspace, "setup_workspace", "remove "+dir, "", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrWorkspace, "setup_workspace", "create "+dir, "", err)
		}
	}
	return nil
}
