// Package config loads, normalizes, and validates fecingest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AWS_ACCESS_KEY_ID and DATABASE_URL. The Config type centralizes every knob
// the dispatcher and CLI need, so workspace roots, object storage credentials,
// and hand-off targets are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
