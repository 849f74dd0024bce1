package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrWorkspace     = errors.New("workspace error")
	ErrTransform     = errors.New("transform error")
	ErrUpload        = errors.New("upload error")
	ErrHandoff       = errors.New("handoff error")
	ErrTransient     = errors.New("transient failure")
)

// ErrorKind is the short label surfaced in logs, the run ledger, and CLI output.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindConfiguration ErrorKind = "config"
	KindWorkspace     ErrorKind = "workspace"
	KindTransform     ErrorKind = "transform"
	KindUpload        ErrorKind = "upload"
	KindHandoff       ErrorKind = "handoff"
	KindUnknown       ErrorKind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind classifies err by the markers it carries. Handoff and workspace markers
// win over transform, and transform wins over upload, so an upload failure
// surfaced by a transform stage reports as a transform failure.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrHandoff):
		return KindHandoff
	case errors.Is(err, ErrWorkspace):
		return KindWorkspace
	case errors.Is(err, ErrTransform):
		return KindTransform
	case errors.Is(err, ErrUpload):
		return KindUpload
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
