package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateHandoff(); err != nil {
		return err
	}
	if err := c.validatePipelines(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"fetch.timeout_seconds":         c.Fetch.TimeoutSeconds,
		"scheduler.workers":             c.Scheduler.Workers,
		"scheduler.poll_interval":       c.Scheduler.PollInterval,
		"scheduler.stuck_after_seconds": c.Scheduler.StuckAfterSeconds,
		"scheduler.heartbeat_seconds":   c.Scheduler.HeartbeatSeconds,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateFetch() error {
	if !strings.HasPrefix(c.Fetch.BaseURL, "http://") && !strings.HasPrefix(c.Fetch.BaseURL, "https://") {
		return fmt.Errorf("fetch.base_url must be an http(s) URL, got %q", c.Fetch.BaseURL)
	}
	switch c.Fetch.SourceEncoding {
	case EncodingUTF8, EncodingLatin1:
	default:
		return fmt.Errorf("fetch.source_encoding must be %q or %q", EncodingUTF8, EncodingLatin1)
	}
	switch c.Fetch.MalformedRows {
	case MalformedRowsPass, MalformedRowsDrop:
	default:
		return fmt.Errorf("fetch.malformed_rows must be %q or %q", MalformedRowsPass, MalformedRowsDrop)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageBackendMinIO:
		if c.Storage.Endpoint == "" {
			return errors.New("storage.endpoint must be set when storage.backend is minio")
		}
		if strings.Contains(c.Storage.Endpoint, "://") {
			return errors.New("storage.endpoint must be host:port without scheme")
		}
	case StorageBackendDir:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir must be set when storage.backend is dir")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", StorageBackendMinIO, StorageBackendDir)
	}
	return nil
}

func (c *Config) validateHandoff() error {
	if !identifierPattern.MatchString(c.Handoff.OutboxTable) {
		return fmt.Errorf("handoff.outbox_table %q is not a valid SQL identifier", c.Handoff.OutboxTable)
	}
	if c.Handoff.DatabaseURL != "" && c.Handoff.PingTimeoutSeconds <= 0 {
		return errors.New("handoff.ping_timeout_seconds must be positive when handoff.database_url is set")
	}
	return nil
}

func (c *Config) validatePipelines() error {
	if c.Pipelines.StageTarget == c.Pipelines.DownstreamTarget {
		return errors.New("pipelines.stage_target and pipelines.downstream_target must differ")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be >= 1")
	}
	if c.Retry.HandoffAttempts < 1 {
		return errors.New("retry.handoff_attempts must be >= 1")
	}
	if c.Retry.DelaySeconds < 0 {
		return errors.New("retry.delay_seconds must be >= 0")
	}
	if c.Retry.MaxDelaySeconds < 0 {
		return errors.New("retry.max_delay_seconds must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
