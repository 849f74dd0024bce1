package blobsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fecingest/internal/fileutil"
)

// DirSink copies artifacts into root/{bucket}/{key}.
type DirSink struct {
	root   string
	bucket string
}

// NewDirSink returns a sink rooted at root.
func NewDirSink(root, bucket string) (*DirSink, error) {
	if strings.TrimSpace(root) == "" {
		return nil, uploadError("new", "storage dir is required", nil)
	}
	return &DirSink{root: root, bucket: strings.TrimSpace(bucket)}, nil
}

func (s *DirSink) resolveBucket(bucket string) (string, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket != "" {
		if strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
			return "", uploadError("bucket", fmt.Sprintf("invalid bucket %q", bucket), nil)
		}
		info, err := os.Stat(filepath.Join(s.root, bucket))
		if err != nil {
			return "", uploadError("bucket", bucket, err)
		}
		if !info.IsDir() {
			return "", uploadError("bucket", fmt.Sprintf("bucket %q is not a directory", bucket), nil)
		}
		return bucket, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", uploadError("list buckets", s.root, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", uploadError("list buckets", "no buckets available in "+s.root, nil)
	}
	sort.Strings(names)
	return names[0], nil
}

// Check resolves the target bucket directory.
func (s *DirSink) Check(context.Context) (string, error) {
	return s.resolveBucket("")
}

// Put copies localPath to root/bucket/remoteKey, replacing any previous
// object with the same key.
func (s *DirSink) Put(ctx context.Context, localPath, remoteKey, bucket string) error {
	if err := ctx.Err(); err != nil {
		return uploadError("put", remoteKey, err)
	}
	target, err := s.resolveBucket(bucket)
	if err != nil {
		return err
	}
	key := filepath.Clean(filepath.FromSlash(remoteKey))
	if key == "." || filepath.IsAbs(key) || key == ".." || strings.HasPrefix(key, ".."+string(filepath.Separator)) {
		return uploadError("put", fmt.Sprintf("invalid key %q", remoteKey), nil)
	}
	dst := filepath.Join(s.root, target, key)
	if _, err := fileutil.CopyVerified(localPath, dst); err != nil {
		return uploadError("put", dst, err)
	}
	return nil
}
