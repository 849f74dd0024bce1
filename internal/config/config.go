package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	TempDir   string `toml:"temp_dir"`
	SchemaDir string `toml:"schema_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// Fetch contains configuration for the bulk download transform.
type Fetch struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// SourceEncoding is "utf-8" or "latin-1". Older FEC releases are Latin-1.
	SourceEncoding string `toml:"source_encoding"`
	// MalformedRows is "pass" (pad or truncate to the schema width) or "drop".
	MalformedRows string `toml:"malformed_rows"`
	UserAgent     string `toml:"user_agent"`
}

// Storage contains configuration for the blob sink.
type Storage struct {
	Backend   string `toml:"backend"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
	// Bucket selects the upload bucket. Empty means the first bucket listed.
	Bucket    string `toml:"bucket"`
	Namespace string `toml:"namespace"`
	Dir       string `toml:"dir"`
}

// Handoff contains configuration for the downstream hand-off outbox.
type Handoff struct {
	DatabaseURL        string `toml:"database_url"`
	OutboxTable        string `toml:"outbox_table"`
	PingTimeoutSeconds int    `toml:"ping_timeout_seconds"`
}

// Pipelines contains pipeline chaining settings.
type Pipelines struct {
	StageTarget      string `toml:"stage_target"`
	DownstreamTarget string `toml:"downstream_target"`
	StrictEnvelope   bool   `toml:"strict_envelope"`
}

// Retry contains the per-stage retry policy.
type Retry struct {
	Attempts        int     `toml:"attempts"`
	DelaySeconds    int     `toml:"delay_seconds"`
	Multiplier      float64 `toml:"multiplier"`
	MaxDelaySeconds int     `toml:"max_delay_seconds"`
	HandoffAttempts int     `toml:"handoff_attempts"`
}

// Scheduler contains configuration for the local dispatcher.
type Scheduler struct {
	Workers           int `toml:"workers"`
	PollInterval      int `toml:"poll_interval"`
	StuckAfterSeconds int `toml:"stuck_after_seconds"`
	HeartbeatSeconds  int `toml:"heartbeat_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnSuccess      bool   `toml:"on_success"`
	OnFailure      bool   `toml:"on_failure"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for fecingest.
//
// Configuration sections by subsystem:
//   - Paths: workspace root, schema registry, state and log directories
//   - Fetch: bulk download source and cleaning leniency
//   - Storage: blob sink backend and credentials
//   - Handoff: external outbox for downstream pipelines
//   - Pipelines: chaining targets and envelope strictness
//   - Retry: per-stage retry policy
//   - Scheduler: local dispatcher workers and polling
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Fetch         Fetch         `toml:"fetch"`
	Storage       Storage       `toml:"storage"`
	Handoff       Handoff       `toml:"handoff"`
	Pipelines     Pipelines     `toml:"pipelines"`
	Retry         Retry         `toml:"retry"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fecingest/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fecingest.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for dispatcher operation.
// The storage directory is only created for the dir backend.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.StateDir, c.LockDir(), c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Storage.Backend == StorageBackendDir {
		if err := os.MkdirAll(c.Storage.Dir, 0o755); err != nil {
			return fmt.Errorf("create storage directory %q: %w", c.Storage.Dir, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// LockDir returns the directory holding per-workspace lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// DaemonLockPath returns the single-instance lock used by the daemon.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.StateDir, "fecingest.lock")
}

// FetchTimeout returns the download timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// PollInterval returns the dispatcher poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollInterval) * time.Second
}

// StuckAfter returns how long a running run may go without a heartbeat
// before the sweep requeues it.
func (c *Config) StuckAfter() time.Duration {
	return time.Duration(c.Scheduler.StuckAfterSeconds) * time.Second
}

// HeartbeatInterval returns how often a worker refreshes the run it owns.
// It never exceeds a quarter of StuckAfter so a live run is not swept.
func (c *Config) HeartbeatInterval() time.Duration {
	interval := time.Duration(c.Scheduler.HeartbeatSeconds) * time.Second
	if limit := c.StuckAfter() / 4; limit > 0 && (interval <= 0 || interval > limit) {
		interval = limit
	}
	return interval
}

// RetryDelay returns the initial delay between stage attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.DelaySeconds) * time.Second
}

// RetryMaxDelay returns the cap applied to backoff growth. Zero means uncapped.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelaySeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultStateDir() string {
	if base, ok := os.LookupEnv("XDG_STATE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "fecingest")
	}
	return "~/.local/state/fecingest"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
