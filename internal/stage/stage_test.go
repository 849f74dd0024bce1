package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fecingest/internal/blobsink"
	"fecingest/internal/envelope"
	"fecingest/internal/services"
	"fecingest/internal/workspace"
)

type recordingSink struct {
	bucket   string
	checkErr error
	putErr   error
	puts     []string
}

func (s *recordingSink) Check(context.Context) (string, error) {
	return s.bucket, s.checkErr
}

func (s *recordingSink) Put(_ context.Context, localPath, remoteKey, bucket string) error {
	s.puts = append(s.puts, localPath+"->"+bucket+"/"+remoteKey)
	return s.putErr
}

func stagedPaths(t *testing.T) (envelope.Envelope, workspace.Paths) {
	t.Helper()
	env := envelope.FromRawMap(map[string]any{
		"name": "indiv", "fec_code": "indiv", "cycle": "2024",
		"run_date": "2024-03-01", "extension": ".txt", "temp_dir": t.TempDir(),
	})
	paths := workspace.Derive(env)
	require.NoError(t, workspace.Setup(paths))
	require.NoError(t, os.WriteFile(paths.OutputArtifactPath(), []byte("A\n1\n"), 0o644))
	return env, paths
}

func TestUploadUsesNamespacedKey(t *testing.T) {
	env, paths := stagedPaths(t)
	sink := &recordingSink{bucket: "raw"}
	u := NewUploader(sink, "campaign-finance", "", nil)

	key, err := u.Run(context.Background(), env, paths)
	require.NoError(t, err)
	assert.Equal(t, "campaign-finance/2024-03-01_indiv_2024.txt", key)
	assert.Equal(t, []string{paths.OutputArtifactPath() + "->/" + key}, sink.puts)
}

func TestUploadToDirSink(t *testing.T) {
	env, paths := stagedPaths(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0o755))
	sink, err := blobsink.NewDirSink(root, "")
	require.NoError(t, err)

	u := NewUploader(sink, "campaign-finance", "", nil)
	require.NoError(t, u.ConnectivityCheck(context.Background()))
	key, err := u.Run(context.Background(), env, paths)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "raw", filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "A\n1\n", string(got))
}

func TestUploadFailuresCarryBothMarkers(t *testing.T) {
	env, paths := stagedPaths(t)
	sink := &recordingSink{putErr: errors.New("connection reset")}
	_, err := NewUploader(sink, "ns", "", nil).Run(context.Background(), env, paths)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrUpload)
	assert.ErrorIs(t, err, services.ErrTransform)

	require.NoError(t, os.Remove(paths.OutputArtifactPath()))
	_, err = NewUploader(&recordingSink{}, "ns", "", nil).Run(context.Background(), env, paths)
	assert.ErrorIs(t, err, services.ErrUpload)
}

func TestConnectivityCheckFailure(t *testing.T) {
	u := NewUploader(&recordingSink{checkErr: errors.New("no route")}, "ns", "", nil)
	err := u.ConnectivityCheck(context.Background())
	assert.ErrorIs(t, err, services.ErrUpload)
	assert.ErrorIs(t, err, services.ErrTransform)

	var nilUploader *Uploader
	assert.Error(t, nilUploader.ConnectivityCheck(context.Background()))
}
