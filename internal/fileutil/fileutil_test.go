package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.csv")
	dst := filepath.Join(dir, "nested", "campaign-finance", "dst.csv")

	content := []byte("a,b\n1,2\n")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	digest, err := CopyVerified(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
	sum := sha256.Sum256(content)
	if digest.SHA256 != hex.EncodeToString(sum[:]) || digest.Size != int64(len(content)) {
		t.Fatalf("unexpected digest %+v", digest)
	}

	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the destination file, found %d entries", len(entries))
	}
}

func TestCopyVerifiedOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(dst, []byte("stale content that is longer"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("fresh"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CopyVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "fresh" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestCopyVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := CopyVerified(filepath.Join(dir, "nope"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, err := os.Stat(filepath.Join(dir, "dst")); !os.IsNotExist(err) {
		t.Fatalf("destination should not exist, stat err=%v", err)
	}
}

func TestCopyVerifiedRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := CopyVerified(dir, filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for directory source")
	}
}

func TestFileDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	digest, err := FileDigest(path)
	if err != nil {
		t.Fatal(err)
	}
	if digest.Size != 3 || digest.SHA256 != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %+v", digest)
	}
}

func TestVerifyCopyDetectsCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	want, err := FileDigest(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := verifyCopy(path, want); err != nil {
		t.Fatalf("intact copy rejected: %v", err)
	}

	if err := os.WriteFile(path, []byte("a,b\n1,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyCopy(path, want); err == nil {
		t.Fatal("expected hash mismatch for same-size corrupted copy")
	}

	if err := os.WriteFile(path, []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyCopy(path, want); err == nil {
		t.Fatal("expected size mismatch for truncated copy")
	}
}
