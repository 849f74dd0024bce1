// Package staging inspects and prunes run workspaces under paths.temp_dir.
//
// Only directories shaped like a workspace ({name}_{cycle} holding an "in"
// or "out" subdirectory) are considered, since temp_dir is often shared with
// other programs.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fecingest/internal/logging"
)

// Locker guards a workspace key while it is inspected or removed. The
// dispatcher's KeyLocks satisfies it.
type Locker interface {
	TryLock(key string) (release func(), ok bool, err error)
}

// CleanStaleResult contains the outcome of a stale workspace cleanup.
type CleanStaleResult struct {
	Removed []string
	Skipped []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// DirInfo contains metadata about a workspace directory.
type DirInfo struct {
	Key     string
	Path    string
	ModTime time.Time
	Size    int64
	// HasOutput reports whether out/ holds at least one file.
	HasOutput bool
}

// IsWorkspace reports whether path looks like a run workspace.
func IsWorkspace(path string) bool {
	name := filepath.Base(path)
	if !strings.Contains(name, "_") || strings.HasPrefix(name, ".") {
		return false
	}
	for _, sub := range []string{"in", "out"} {
		if info, err := os.Stat(filepath.Join(path, sub)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// ListDirectories returns the workspaces under tempDir, oldest first.
func ListDirectories(tempDir string) ([]DirInfo, error) {
	tempDir = strings.TrimSpace(tempDir)
	if tempDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(tempDir, entry.Name())
		if !IsWorkspace(dirPath) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			Key:       entry.Name(),
			Path:      dirPath,
			ModTime:   info.ModTime(),
			Size:      size,
			HasOutput: hasFiles(filepath.Join(dirPath, "out")),
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].ModTime.Before(dirs[j].ModTime) })
	return dirs, nil
}

// CleanStale removes workspaces older than maxAge. Workspaces whose key is
// locked by a running pipeline, or listed in active, are skipped.
func CleanStale(ctx context.Context, tempDir string, maxAge time.Duration, locker Locker, active map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	dirs, err := ListDirectories(tempDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: tempDir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		if !dir.ModTime.Before(cutoff) {
			continue
		}
		if _, busy := active[dir.Key]; busy {
			result.Skipped = append(result.Skipped, dir.Path)
			continue
		}
		release := func() {}
		if locker != nil {
			r, ok, err := locker.TryLock(dir.Key)
			if err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
				continue
			}
			if !ok {
				result.Skipped = append(result.Skipped, dir.Path)
				continue
			}
			release = r
		}

		err := os.RemoveAll(dir.Path)
		release()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			logger.Warn("failed to remove stale workspace",
				logging.String("path", dir.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workspace_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check temp_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir.Path)
		logger.Info("removed stale workspace",
			logging.String("path", dir.Path),
			logging.Duration("age", time.Since(dir.ModTime)),
			logging.String(logging.FieldEventType, "workspace_cleanup"),
		)
	}

	return result
}

func hasFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			return true
		}
	}
	return false
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
