package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"fecingest/internal/config"
	"fecingest/internal/envelope"
	"fecingest/internal/logging"
	"fecingest/internal/schema"
	"fecingest/internal/services"
	"fecingest/internal/workspace"
)

// Options configures a Fetcher.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	SourceEncoding string
	MalformedRows  string
}

// OptionsFromConfig copies the [fetch] section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:        cfg.Fetch.BaseURL,
		Timeout:        cfg.FetchTimeout(),
		UserAgent:      cfg.Fetch.UserAgent,
		SourceEncoding: cfg.Fetch.SourceEncoding,
		MalformedRows:  cfg.Fetch.MalformedRows,
	}
}

// Fetcher implements the FETCH transform.
type Fetcher struct {
	opts     Options
	registry *schema.Registry
	client   *http.Client
	logger   *slog.Logger
}

// New returns a Fetcher. A nil client gets one with opts.Timeout.
func New(opts Options, registry *schema.Registry, client *http.Client, logger *slog.Logger) *Fetcher {
	if opts.MalformedRows == "" {
		opts.MalformedRows = config.MalformedRowsPass
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{opts: opts, registry: registry, client: client, logger: logger}
}

// NewFromConfig wires a Fetcher from the loaded configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Fetcher {
	return New(OptionsFromConfig(cfg), schema.NewRegistry(cfg.Paths.SchemaDir), nil, logger)
}

func fail(operation, message string, err error) error {
	return services.Wrap(services.ErrTransform, "transform", operation, message, err)
}

// Run downloads, extracts, cleans and maps one dataset. The returned path is
// paths.OutputArtifactPath().
func (f *Fetcher) Run(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error) {
	if env.FECCode() == "" || env.Cycle() == "" || env.Name() == "" {
		return "", fail("fetch", "name, fec_code and cycle are required", nil)
	}
	if f.registry == nil {
		return "", fail("schema", "no schema registry configured", nil)
	}
	logger := logging.WithContext(ctx, f.logger)

	// Load the schema first so a missing definition fails before the download.
	sch, err := f.registry.Load(env.Name())
	if err != nil {
		return "", fail("schema", env.Name(), err)
	}

	sourceURL, err := SourceURL(f.opts.BaseURL, env.Cycle(), env.FECCode(), env.CycleSuffix())
	if err != nil {
		return "", fail("download", "", err)
	}
	zipPath := filepath.Join(paths.DataDir, fmt.Sprintf("%s_%s.zip", env.Name(), env.Cycle()))

	started := time.Now()
	size, err := f.download(ctx, sourceURL, zipPath)
	if err != nil {
		return "", fail("download", sourceURL, err)
	}
	logger.Info("source downloaded",
		logging.String(logging.FieldEventType, "fetch_downloaded"),
		logging.String("url", sourceURL),
		logging.Int64("bytes", size),
		logging.Duration("elapsed", time.Since(started)),
	)

	rawPath, err := extractSingle(zipPath, paths.DataDir, paths.CleanedArtifactPath, zipPath)
	if err != nil {
		return "", fail("extract", zipPath, err)
	}
	if err := os.Remove(zipPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fail("extract", "remove archive", err)
	}

	cleaned, err := CleanFile(rawPath, paths.CleanedArtifactPath, f.opts.SourceEncoding)
	if err != nil {
		return "", fail("clean", rawPath, err)
	}
	logger.Debug("source cleaned",
		logging.String("raw", rawPath),
		logging.String("cleaned", paths.CleanedArtifactPath),
		logging.Int64("bytes", cleaned),
	)

	output := paths.OutputArtifactPath()
	stats, err := MapToSchema(paths.CleanedArtifactPath, output, sch, f.opts.MalformedRows)
	if err != nil {
		return "", fail("schema map", output, err)
	}
	if stats.Malformed > 0 {
		logger.Warn("malformed rows tolerated",
			logging.String(logging.FieldEventType, "fetch_malformed_rows"),
			logging.Int("malformed", stats.Malformed),
			logging.Int("dropped", stats.Dropped),
			logging.String("policy", f.opts.MalformedRows),
			logging.String(logging.FieldErrorHint, "check the schema definition in "+sch.Source),
		)
	}
	logger.Info("dataset written",
		logging.String(logging.FieldEventType, "fetch_written"),
		logging.String("output", output),
		logging.Int("rows", stats.Rows),
		logging.Int("columns", sch.Width()),
		logging.String("schema_version", sch.Version),
	)
	return output, nil
}
