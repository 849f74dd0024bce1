package pipeline

import (
	"fmt"
	"strings"

	"fecingest/internal/services"
)

// RunError carries what an operator needs to find the affected workspace.
type RunError struct {
	Pipeline string
	Stage    string
	Kind     services.ErrorKind
	Name     string
	Cycle    string
	Cause    error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s run failed at stage %s", e.Pipeline, e.Stage)
	if e.Kind != services.KindNone {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	fmt.Fprintf(&b, " [name=%s cycle=%s]", e.Name, e.Cycle)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *RunError) Unwrap() error {
	return e.Cause
}
