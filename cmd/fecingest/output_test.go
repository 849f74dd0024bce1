package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestExecuteExitCodes(t *testing.T) {
	var stderr bytes.Buffer
	if code := execute(func() error { return nil }, &stderr); code != 0 {
		t.Fatalf("success exit code = %d", code)
	}
	if code := execute(func() error { return fmt.Errorf("drain: %w", context.Canceled) }, &stderr); code != exitInterrupted {
		t.Fatalf("interrupted exit code = %d", code)
	}
	if stderr.Len() != 0 {
		t.Fatalf("interrupted run should be quiet, got %q", stderr.String())
	}
	if code := execute(func() error { return errors.New("1 of 2 runs failed") }, &stderr); code != 1 {
		t.Fatalf("failure exit code = %d", code)
	}
	if got := stderr.String(); got != "fecingest: 1 of 2 runs failed\n" {
		t.Fatalf("unexpected stderr %q", got)
	}
}

func TestWriteJSONEmitsEmptyArrayForNilSlice(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	var views []runView
	if err := writeJSON(cmd, views); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "[]" {
		t.Fatalf("expected [], got %q", got)
	}

	out.Reset()
	if err := writeJSON(cmd, map[string]string{"base_url": "https://example.test/a?x=1&y=2"}); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if !strings.Contains(out.String(), "x=1&y=2") {
		t.Fatalf("expected unescaped ampersand, got %q", out.String())
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	rendered := renderTable(workspaceColumns, [][]string{{"indiv_2024", "5m"}})
	for _, want := range []string{"Workspace", "Output", "indiv_2024", "5m"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("table missing %q:\n%s", want, rendered)
		}
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty render without columns")
	}
}
