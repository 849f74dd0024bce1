package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"fecingest/internal/blobsink"
	"fecingest/internal/handoff"
	"fecingest/internal/ledger"
	"fecingest/internal/schema"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSchemaRegistry verifies the schema directory is readable and lists
// how many dataset schemas it holds.
func CheckSchemaRegistry(dir string) Result {
	const name = "Schema registry"

	info, err := os.Stat(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", dir)}
	}
	if err := unix.Access(dir, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", dir, err)}
	}
	datasets, err := schema.NewRegistry(dir).Datasets()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	if len(datasets) == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: no schemas found)", dir)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d datasets)", dir, len(datasets))}
}

// CheckLedger pings the run ledger and runs an integrity check.
func CheckLedger(ctx context.Context, store *ledger.Store) Result {
	const name = "Run ledger"
	if err := store.Ping(ctx); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: store.Path()}
}

// CheckStorage verifies the blob sink resolves an upload bucket.
func CheckStorage(ctx context.Context, sink blobsink.Sink) Result {
	const name = "Blob storage"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	bucket, err := sink.Check(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("bucket %s", bucket)}
}

// CheckFetchSource sends a HEAD request to the bulk download host. Any
// response below 500 counts as reachable; the base path itself is often not
// a downloadable object.
func CheckFetchSource(ctx context.Context, baseURL, userAgent string) Result {
	const name = "FEC bulk downloads"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, base+"/", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Reachable (%d)", resp.StatusCode)}
}

// CheckPostgresOutbox connects to the hand-off database and ensures the
// trigger table exists.
func CheckPostgresOutbox(ctx context.Context, cfg handoff.PostgresConfig) Result {
	const name = "Postgres outbox"

	recorder, err := handoff.OpenPostgres(ctx, cfg)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	_ = recorder.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("table %s", cfg.Table)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (unreachable)"
	}
	return err.Error()
}
