package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// MkdirAll creates dir or fails the test.
func MkdirAll(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	MkdirAll(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteSchema stores a YAML schema for dataset under dir.
func WriteSchema(t testing.TB, dir, dataset string, columns ...string) {
	t.Helper()
	var b []byte
	b = append(b, "columns:\n"...)
	for _, col := range columns {
		b = append(b, "  - name: "+col+"\n"...)
	}
	WriteFile(t, filepath.Join(dir, dataset+".yaml"), string(b))
}
