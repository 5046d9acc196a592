package s3store

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const scheme = "s3://"

var (
	// ErrNotS3URI is returned for locations without the s3:// scheme.
	ErrNotS3URI = errors.New("invalid S3 URI: must start with s3://")
	// ErrMissingBucket is returned for "s3://" or "s3:///key".
	ErrMissingBucket = errors.New("invalid S3 URI: missing bucket name")
	// ErrUnsafeKey is returned for object keys that would escape the local
	// staging directory.
	ErrUnsafeKey = errors.New("object key escapes staging directory")
)

// URI identifies an object prefix in a bucket.
type URI struct {
	Bucket string
	Key    string
}

// IsURI reports whether location uses the s3:// scheme.
func IsURI(location string) bool {
	return strings.HasPrefix(location, scheme)
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (URI, error) {
	if !IsURI(uri) {
		return URI{}, ErrNotS3URI
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return URI{}, ErrMissingBucket
	}
	return URI{Bucket: bucket, Key: key}, nil
}

// String returns the s3:// form.
func (u URI) String() string {
	if u.Key == "" {
		return scheme + u.Bucket
	}
	return scheme + u.Bucket + "/" + u.Key
}

// Prefix returns the key with a trailing slash, treating it as a directory.
func (u URI) Prefix() string {
	if u.Key == "" || strings.HasSuffix(u.Key, "/") {
		return u.Key
	}
	return u.Key + "/"
}

// Join appends name below the prefix.
func (u URI) Join(name string) URI {
	return URI{Bucket: u.Bucket, Key: path.Join(u.Prefix(), name)}
}

// localPath maps an object key below prefix to a file under dir.
func localPath(dir, prefix, key string) (string, error) {
	rel := strings.TrimPrefix(key, prefix)
	if rel == "" || rel == key && prefix != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	return filepath.Join(dir, clean), nil
}
