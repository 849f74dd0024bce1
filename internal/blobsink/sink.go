// Package blobsink uploads staged artifacts to object storage.
//
// Two backends exist: MinIO/S3 through minio-go, and a local directory tree
// where each top-level subdirectory plays the role of a bucket. Both resolve
// an empty bucket name to the first bucket they can list.
package blobsink

import (
	"context"
	"fmt"
	"path"
	"strings"

	"fecingest/internal/config"
	"fecingest/internal/services"
)

// Sink is the upload contract.
type Sink interface {
	// Put uploads localPath under remoteKey. An empty bucket selects the
	// sink's configured bucket, or the first bucket listed when none is set.
	Put(ctx context.Context, localPath, remoteKey, bucket string) error
	// Check resolves the bucket Put would use with an empty bucket.
	Check(ctx context.Context) (string, error)
}

// New builds the sink selected by storage.backend.
func New(cfg *config.Config) (Sink, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "blobsink", "new", "config is required", nil)
	}
	switch cfg.Storage.Backend {
	case config.StorageBackendDir:
		return NewDirSink(cfg.Storage.Dir, cfg.Storage.Bucket)
	case config.StorageBackendMinIO, "":
		return NewMinIOSink(MinIOConfigFromStorage(cfg.Storage))
	default:
		return nil, services.Wrap(services.ErrConfiguration, "blobsink", "new",
			fmt.Sprintf("unknown storage backend %q", cfg.Storage.Backend), nil)
	}
}

// RemoteKey joins the namespace and the artifact name.
func RemoteKey(namespace, artifactName string) string {
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return artifactName
	}
	return path.Join(namespace, artifactName)
}

func uploadError(operation, message string, err error) error {
	return services.Wrap(services.ErrUpload, "transform", operation, message, err)
}
