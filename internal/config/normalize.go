package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFetch()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeHandoff()
	c.normalizePipelines()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SchemaDir) == "" {
		c.Paths.SchemaDir = defaultSchemaDir
	}
	if c.Paths.SchemaDir, err = expandPath(c.Paths.SchemaDir); err != nil {
		return fmt.Errorf("paths.schema_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir()
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeFetch() {
	c.Fetch.BaseURL = strings.TrimRight(strings.TrimSpace(c.Fetch.BaseURL), "/")
	if c.Fetch.BaseURL == "" {
		c.Fetch.BaseURL = defaultFetchBaseURL
	}
	switch strings.ToLower(strings.TrimSpace(c.Fetch.SourceEncoding)) {
	case "", "utf8", "utf-8":
		c.Fetch.SourceEncoding = EncodingUTF8
	case "latin1", "latin-1", "iso-8859-1":
		c.Fetch.SourceEncoding = EncodingLatin1
	default:
		c.Fetch.SourceEncoding = strings.ToLower(strings.TrimSpace(c.Fetch.SourceEncoding))
	}
	c.Fetch.MalformedRows = strings.ToLower(strings.TrimSpace(c.Fetch.MalformedRows))
	if c.Fetch.MalformedRows == "" {
		c.Fetch.MalformedRows = MalformedRowsPass
	}
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultFetchUserAgent
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendMinIO
	}
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Region = strings.TrimSpace(c.Storage.Region)
	c.Storage.Namespace = strings.Trim(strings.TrimSpace(c.Storage.Namespace), "/")
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = defaultStorageNamespace
	}
	c.Storage.AccessKey = strings.TrimSpace(c.Storage.AccessKey)
	if c.Storage.AccessKey == "" {
		if value, ok := os.LookupEnv("FECINGEST_S3_ACCESS_KEY"); ok {
			c.Storage.AccessKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok {
			c.Storage.AccessKey = strings.TrimSpace(value)
		}
	}
	c.Storage.SecretKey = strings.TrimSpace(c.Storage.SecretKey)
	if c.Storage.SecretKey == "" {
		if value, ok := os.LookupEnv("FECINGEST_S3_SECRET_KEY"); ok {
			c.Storage.SecretKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
			c.Storage.SecretKey = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		c.Storage.Dir = defaultStorageDir
	}
	var err error
	if c.Storage.Dir, err = expandPath(c.Storage.Dir); err != nil {
		return fmt.Errorf("storage.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeHandoff() {
	c.Handoff.DatabaseURL = strings.TrimSpace(c.Handoff.DatabaseURL)
	if c.Handoff.DatabaseURL == "" {
		if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.Handoff.DatabaseURL = strings.TrimSpace(value)
		}
	}
	c.Handoff.OutboxTable = strings.TrimSpace(c.Handoff.OutboxTable)
	if c.Handoff.OutboxTable == "" {
		c.Handoff.OutboxTable = defaultOutboxTable
	}
}

func (c *Config) normalizePipelines() {
	c.Pipelines.StageTarget = strings.TrimSpace(c.Pipelines.StageTarget)
	if c.Pipelines.StageTarget == "" {
		c.Pipelines.StageTarget = defaultStageTarget
	}
	c.Pipelines.DownstreamTarget = strings.TrimSpace(c.Pipelines.DownstreamTarget)
	if c.Pipelines.DownstreamTarget == "" {
		c.Pipelines.DownstreamTarget = defaultDownstreamTarget
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
