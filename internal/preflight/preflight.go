package preflight

import (
	"context"
	"strings"

	"fecingest/internal/blobsink"
	"fecingest/internal/config"
	"fecingest/internal/handoff"
	"fecingest/internal/ledger"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Workspace directory", cfg.Paths.TempDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckSchemaRegistry(cfg.Paths.SchemaDir),
	}

	results = append(results, checkLedgerPath(ctx, cfg.LedgerPath()))

	sink, err := blobsink.New(cfg)
	if err != nil {
		results = append(results, Result{Name: "Blob storage", Detail: err.Error()})
	} else {
		results = append(results, CheckStorage(ctx, sink))
	}

	results = append(results, CheckFetchSource(ctx, cfg.Fetch.BaseURL, cfg.Fetch.UserAgent))

	if strings.TrimSpace(cfg.Handoff.DatabaseURL) != "" {
		results = append(results, CheckPostgresOutbox(ctx, handoff.PostgresConfigFrom(cfg.Handoff)))
	}
	return results
}

func checkLedgerPath(ctx context.Context, path string) Result {
	store, err := ledger.OpenPath(path)
	if err != nil {
		return Result{Name: "Run ledger", Detail: err.Error()}
	}
	defer store.Close()
	return CheckLedger(ctx, store)
}
