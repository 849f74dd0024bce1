package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// exitInterrupted matches the shell convention for SIGINT.
const exitInterrupted = 130

func main() {
	os.Exit(execute(newRootCommand().Execute, os.Stderr))
}

// execute maps a command error to an exit code. An interrupted run exits
// quietly with 130; any other failure, including failed pipeline runs, exits 1.
func execute(run func() error, stderr io.Writer) int {
	err := run()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		fmt.Fprintf(stderr, "fecingest: %v\n", err)
		return 1
	}
}
