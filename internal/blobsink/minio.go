package blobsink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fecingest/internal/config"
	"fecingest/internal/fileutil"
)

// MinIOConfig holds the S3 connection settings.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// MinIOConfigFromStorage copies the [storage] section.
func MinIOConfigFromStorage(s config.Storage) MinIOConfig {
	return MinIOConfig{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Region:    s.Region,
		UseSSL:    s.UseSSL,
		Bucket:    s.Bucket,
	}
}

func (c MinIOConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// NewMinIOClient builds a minio-go client for cfg.
func NewMinIOClient(cfg MinIOConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// MinIOSink uploads to an S3-compatible endpoint.
type MinIOSink struct {
	client *minio.Client
	bucket string
}

// NewMinIOSink validates cfg and builds the client. No request is made.
func NewMinIOSink(cfg MinIOConfig) (*MinIOSink, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, uploadError("connect", "minio client", err)
	}
	return &MinIOSink{client: client, bucket: strings.TrimSpace(cfg.Bucket)}, nil
}

// NewMinIOSinkWithClient wraps an existing client.
func NewMinIOSinkWithClient(client *minio.Client, bucket string) (*MinIOSink, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &MinIOSink{client: client, bucket: strings.TrimSpace(bucket)}, nil
}

func (s *MinIOSink) resolveBucket(ctx context.Context, bucket string) (string, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket != "" {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return "", uploadError("bucket", bucket, err)
		}
		if !exists {
			return "", uploadError("bucket", fmt.Sprintf("bucket %q missing", bucket), nil)
		}
		return bucket, nil
	}
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		return "", uploadError("list buckets", s.client.EndpointURL().Host, err)
	}
	if len(buckets) == 0 {
		return "", uploadError("list buckets", "no buckets available", nil)
	}
	return buckets[0].Name, nil
}

// Check resolves the target bucket.
func (s *MinIOSink) Check(ctx context.Context) (string, error) {
	if s == nil || s.client == nil {
		return "", uploadError("check", "minio sink not initialized", nil)
	}
	return s.resolveBucket(ctx, "")
}

// Put uploads localPath as remoteKey. The object carries the content SHA-256
// as user metadata.
func (s *MinIOSink) Put(ctx context.Context, localPath, remoteKey, bucket string) error {
	if s == nil || s.client == nil {
		return uploadError("put", "minio sink not initialized", nil)
	}
	target, err := s.resolveBucket(ctx, bucket)
	if err != nil {
		return err
	}
	digest, err := fileutil.FileDigest(localPath)
	if err != nil {
		return uploadError("put", localPath, err)
	}
	body, err := os.Open(localPath)
	if err != nil {
		return uploadError("put", localPath, err)
	}
	defer body.Close()

	opts := minio.PutObjectOptions{
		ContentType:  contentType(remoteKey),
		UserMetadata: map[string]string{"sha256": digest.SHA256},
	}
	if _, err := s.client.PutObject(ctx, target, remoteKey, body, digest.Size, opts); err != nil {
		return uploadError("put", target+"/"+remoteKey, err)
	}
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
