package testsupport

import (
	"path/filepath"
	"testing"

	"fecingest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Storage uses the dir backend with a single "raw" bucket so no MinIO server
// is needed, and retries are disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.SchemaDir = filepath.Join(base, "schemas")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.Backend = config.StorageBackendDir
	cfgVal.Storage.Dir = filepath.Join(base, "objects")
	cfgVal.Retry.Attempts = 1
	cfgVal.Retry.DelaySeconds = 0
	cfgVal.Scheduler.Workers = 2
	cfgVal.Scheduler.PollInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	MkdirAll(t, filepath.Join(builder.cfg.Storage.Dir, "raw"))
	MkdirAll(t, builder.cfg.Paths.SchemaDir)
	return builder.cfg
}

// WithFetchBaseURL points the fetch transform at a test server.
func WithFetchBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fetch.BaseURL = url
	}
}

// WithWorkers overrides the dispatcher worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.Workers = n
	}
}

// WithStuckAfter sets scheduler.stuck_after_seconds.
func WithStuckAfter(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.StuckAfterSeconds = seconds
	}
}

// WithDownstreamTarget overrides the target STAGE hands off to.
func WithDownstreamTarget(target string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipelines.DownstreamTarget = target
	}
}

// BaseDir returns the root temp directory used by the builder.
func (b *configBuilder) BaseDir() string {
	return b.baseDir
}
