package fetch

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractSingle unpacks zipPath into dir and returns the path of the one
// regular file it holds. Entries that would land outside dir are rejected.
func extractSingle(zipPath, dir string, reserved ...string) (string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	var files []*zip.File
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		files = append(files, entry)
	}
	switch len(files) {
	case 0:
		return "", errors.New("archive contains no data file")
	case 1:
	default:
		return "", fmt.Errorf("archive contains %d files, expected exactly one", len(files))
	}

	entry := files[0]
	target, err := safeJoin(dir, entry.Name)
	if err != nil {
		return "", err
	}
	for _, name := range reserved {
		if filepath.Clean(name) == target {
			return "", fmt.Errorf("archive entry %q collides with %s", entry.Name, name)
		}
	}
	if !entry.Mode().IsRegular() {
		return "", fmt.Errorf("archive entry %q is not a regular file", entry.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	src, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open entry %q: %w", entry.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("extract %q: %w", entry.Name, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return target, nil
}

func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the data directory", name)
	}
	return filepath.Join(dir, clean), nil
}
