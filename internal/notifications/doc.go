// Package notifications reports pipeline run outcomes to ntfy.
//
// The topic URL comes from [notifications] in config.toml; without one the
// service is a no-op. Failure messages are sent by default, success messages
// only when on_success is set. The dispatcher depends only on the Service
// interface.
package notifications
