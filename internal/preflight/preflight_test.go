package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"fecingest/internal/blobsink"
	"fecingest/internal/ledger"
	"fecingest/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckSchemaRegistry(t *testing.T) {
	dir := t.TempDir()
	if result := CheckSchemaRegistry(dir); result.Passed {
		t.Fatal("expected failure for empty registry")
	}
	testsupport.WriteSchema(t, dir, "indiv", "CMTE_ID", "NAME")
	result := CheckSchemaRegistry(dir)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLedger(t *testing.T) {
	store, err := ledger.OpenPath(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()
	if result := CheckLedger(context.Background(), store); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckStorage(t *testing.T) {
	root := t.TempDir()
	sink, err := blobsink.NewDirSink(root, "")
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}
	if result := CheckStorage(context.Background(), sink); result.Passed {
		t.Fatal("expected failure without a bucket directory")
	}
	if err := os.Mkdir(filepath.Join(root, "raw"), 0o755); err != nil {
		t.Fatal(err)
	}
	result := CheckStorage(context.Background(), sink)
	if !result.Passed || result.Detail != "bucket raw" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckFetchSource(t *testing.T) {
	var gotUA, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotMethod = r.Method
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	result := CheckFetchSource(context.Background(), srv.URL, "fecingest/test")
	if !result.Passed {
		t.Fatalf("expected pass for 403, got: %s", result.Detail)
	}
	if gotUA != "fecingest/test" || gotMethod != http.MethodHead {
		t.Fatalf("unexpected request: method=%s ua=%s", gotMethod, gotUA)
	}
}

func TestCheckFetchSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if result := CheckFetchSource(context.Background(), srv.URL, ""); result.Passed {
		t.Fatal("expected failure for 502")
	}
	if result := CheckFetchSource(context.Background(), " ", ""); result.Passed {
		t.Fatal("expected failure for empty url")
	}
}

func TestRunAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithFetchBaseURL(srv.URL))
	testsupport.WriteSchema(t, cfg.Paths.SchemaDir, "indiv", "CMTE_ID")

	results := RunAll(context.Background(), cfg)
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d: %+v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatalf("expected nil, got %+v", results)
	}
}
