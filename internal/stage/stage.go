// Package stage is the STAGE pipeline transform: a connectivity probe and
// the upload of the FETCH output artifact through a blob sink.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"fecingest/internal/blobsink"
	"fecingest/internal/envelope"
	"fecingest/internal/logging"
	"fecingest/internal/services"
	"fecingest/internal/workspace"
)

// Uploader puts the output artifact into object storage.
type Uploader struct {
	sink      blobsink.Sink
	namespace string
	bucket    string
	logger    *slog.Logger
}

// NewUploader returns an Uploader writing under namespace. An empty bucket
// lets the sink choose.
func NewUploader(sink blobsink.Sink, namespace, bucket string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Uploader{sink: sink, namespace: namespace, bucket: bucket, logger: logger}
}

// ConnectivityCheck fails unless the sink resolves a bucket.
func (u *Uploader) ConnectivityCheck(ctx context.Context) error {
	if u == nil || u.sink == nil {
		return uploadFailure("connectivity", "no blob sink configured", nil)
	}
	bucket, err := u.sink.Check(ctx)
	if err != nil {
		return uploadFailure("connectivity", "", err)
	}
	logging.WithContext(ctx, u.logger).Info("storage reachable",
		logging.String(logging.FieldEventType, "storage_reachable"),
		logging.String("bucket", bucket),
	)
	return nil
}

// Run uploads paths.OutputArtifactPath() and returns the remote key.
func (u *Uploader) Run(ctx context.Context, _ envelope.Envelope, paths workspace.Paths) (string, error) {
	if u == nil || u.sink == nil {
		return "", uploadFailure("upload", "no blob sink configured", nil)
	}
	local := paths.OutputArtifactPath()
	info, err := os.Stat(local)
	if err != nil {
		return "", uploadFailure("upload", "output artifact missing", err)
	}
	if info.IsDir() {
		return "", uploadFailure("upload", fmt.Sprintf("%s is a directory", local), nil)
	}
	key := blobsink.RemoteKey(u.namespace, paths.OutputArtifactName)
	if err := u.sink.Put(ctx, local, key, u.bucket); err != nil {
		return "", uploadFailure("upload", key, err)
	}
	logging.WithContext(ctx, u.logger).Info("artifact uploaded",
		logging.String(logging.FieldEventType, "artifact_uploaded"),
		logging.String("key", key),
		logging.Int64("bytes", info.Size()),
	)
	return key, nil
}

// uploadFailure tags err as both an upload and a transform failure.
func uploadFailure(operation, message string, err error) error {
	if errors.Is(err, services.ErrUpload) {
		return fmt.Errorf("%w: %w", services.ErrTransform, err)
	}
	wrapped := services.Wrap(services.ErrUpload, "transform", operation, message, err)
	return fmt.Errorf("%w: %w", services.ErrTransform, wrapped)
}
