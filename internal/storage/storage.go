// Package storage resolves video sources to local files and stores
// extraction output. It defines the Storage interface (port) with
// implementations for local disk and S3-backed sources.
package storage

import (
	"context"
	"io"
	"strings"
)

// Storage defines the interface for resolving video sources and storing
// extracted frames. Sources are either local file paths or s3:// URIs.
type Storage interface {
	// Fetch resolves a source to a local file path. Local paths are
	// validated and returned as-is (local=true); s3:// URIs are downloaded
	// to the temp directory (local=false) and the caller owns the returned
	// file, removing it via CleanupTemp when done.
	Fetch(ctx context.Context, source string) (path string, local bool, err error)

	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Upload stores data under key and returns a URL for it.
	// Returns ErrS3NotConfigured when no object store is configured.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// IsS3URI reports whether source is an s3:// URI.
func IsS3URI(source string) bool {
	return strings.HasPrefix(source, "s3://")
}

// ParseS3URI splits an s3://bucket/key URI into bucket and key.
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
