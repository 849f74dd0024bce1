package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Digest identifies file content.
type Digest struct {
	Size   int64
	SHA256 string
}

// FileDigest hashes the file at path.
func FileDigest(path string) (Digest, error) {
	in, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer in.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, in)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return Digest{Size: n, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// CopyVerified streams src into dst through a temporary file in dst's
// directory. The synced temporary file is read back and renamed into place
// only when its size and hash match what was read from src. A reader of dst
// never sees a partial file.
func CopyVerified(src, dst string) (Digest, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return Digest{}, fmt.Errorf("stat source: %w", err)
	}
	if srcInfo.IsDir() {
		return Digest{}, fmt.Errorf("source %s is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return Digest{}, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Digest{}, fmt.Errorf("create destination directory: %w", err)
	}
	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".partial-*")
	if err != nil {
		return Digest{}, err
	}
	tmp := out.Name()
	committed := false
	defer func() {
		_ = out.Close()
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, hasher))
	if err != nil {
		return Digest{}, err
	}
	if err := out.Sync(); err != nil {
		return Digest{}, err
	}
	if err := out.Close(); err != nil {
		return Digest{}, err
	}

	if written != srcInfo.Size() {
		return Digest{}, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	want := Digest{Size: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}
	if err := verifyCopy(tmp, want); err != nil {
		return Digest{}, err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return Digest{}, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return Digest{}, fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return want, nil
}

// verifyCopy re-reads the written file and compares it with want.
func verifyCopy(path string, want Digest) error {
	got, err := FileDigest(path)
	if err != nil {
		return fmt.Errorf("verify copy: %w", err)
	}
	if got.Size != want.Size {
		return fmt.Errorf("copy size mismatch: expected %d bytes, found %d bytes", want.Size, got.Size)
	}
	if got.SHA256 != want.SHA256 {
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}
