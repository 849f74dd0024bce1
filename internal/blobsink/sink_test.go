package blobsink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fecingest/internal/config"
	"fecingest/internal/services"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024-03-01_indiv_2024.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDirSinkPutFirstBucket(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "zeta"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden"), 0o755))

	sink, err := NewDirSink(root, "")
	require.NoError(t, err)

	bucket, err := sink.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alpha", bucket)

	src := writeArtifact(t, "a,b\n")
	key := RemoteKey("campaign-finance", filepath.Base(src))
	require.NoError(t, sink.Put(context.Background(), src, key, ""))

	got, err := os.ReadFile(filepath.Join(root, "alpha", "campaign-finance", filepath.Base(src)))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(got))
}

func TestDirSinkPutReplacesObject(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0o755))
	sink, err := NewDirSink(root, "raw")
	require.NoError(t, err)

	require.NoError(t, sink.Put(context.Background(), writeArtifact(t, "old content"), "ns/out.txt", ""))
	require.NoError(t, sink.Put(context.Background(), writeArtifact(t, "new"), "ns/out.txt", ""))

	got, err := os.ReadFile(filepath.Join(root, "raw", "ns", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestDirSinkFailures(t *testing.T) {
	ctx := context.Background()

	empty, err := NewDirSink(t.TempDir(), "")
	require.NoError(t, err)
	_, err = empty.Check(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrUpload))

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0o755))
	sink, err := NewDirSink(root, "")
	require.NoError(t, err)

	err = sink.Put(ctx, writeArtifact(t, "x"), "../escape.txt", "")
	assert.ErrorIs(t, err, services.ErrUpload)

	err = sink.Put(ctx, filepath.Join(root, "missing.txt"), "ns/out.txt", "")
	assert.ErrorIs(t, err, services.ErrUpload)

	err = sink.Put(ctx, writeArtifact(t, "x"), "ns/out.txt", "nope")
	assert.ErrorIs(t, err, services.ErrUpload)

	_, err = NewDirSink("  ", "")
	assert.Error(t, err)
}

func TestRemoteKey(t *testing.T) {
	assert.Equal(t, "campaign-finance/a.txt", RemoteKey("campaign-finance", "a.txt"))
	assert.Equal(t, "a/b/a.txt", RemoteKey("/a/b/", "a.txt"))
	assert.Equal(t, "a.txt", RemoteKey("", "a.txt"))
}

func TestMinIOConfigValidate(t *testing.T) {
	valid := MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Region: "us-east-1"}
	require.NoError(t, valid.Validate())

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	assert.Error(t, invalid.Validate())

	invalid = valid
	invalid.AccessKey = ""
	assert.Error(t, invalid.Validate())
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageBackendDir
	cfg.Storage.Dir = t.TempDir()
	sink, err := New(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &DirSink{}, sink)

	cfg.Storage.Backend = config.StorageBackendMinIO
	cfg.Storage.AccessKey = "a"
	cfg.Storage.SecretKey = "b"
	sink, err = New(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &MinIOSink{}, sink)

	cfg.Storage.Backend = "ftp"
	_, err = New(&cfg)
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("x.csv"))
	assert.Equal(t, "text/plain", contentType("x.txt"))
	assert.Equal(t, "application/octet-stream", contentType("x.bin"))
}
