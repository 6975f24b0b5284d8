// Package blobstore provides the narrow fetch/put capability the pipeline
// uses to read inputs and write results. Buckets and keys follow object
// store naming: a bucket is a flat namespace and keys may contain slashes.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a bucket/key pair does not exist.
	ErrNotFound = errors.New("blobstore: object not found")
	// ErrInvalidKey is returned for bucket or key names that could escape
	// their namespace.
	ErrInvalidKey = errors.New("blobstore: invalid bucket or key")
)

// Store fetches and stores whole objects.
type Store interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// validateName rejects empty names, absolute paths, backslashes and any
// ".." element, so a bucket/key pair always resolves inside its root.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("empty %s: %w", kind, ErrInvalidKey)
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%s %q: %w", kind, name, ErrInvalidKey)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("%s %q attempts to escape its namespace: %w", kind, name, ErrInvalidKey)
		}
	}
	if path.Clean(name) == "." {
		return fmt.Errorf("%s %q: %w", kind, name, ErrInvalidKey)
	}
	return nil
}

func validate(bucket, key string) error {
	if err := validateName("bucket", bucket); err != nil {
		return err
	}
	if strings.Contains(bucket, "/") {
		return fmt.Errorf("bucket %q contains a slash: %w", bucket, ErrInvalidKey)
	}
	return validateName("key", key)
}

// Stem returns the key's base name without any extensions, so
// "CASES/run/optvol_3.0e+02.csv.gz" becomes "optvol_3.0e+02".
func Stem(key string) string {
	base := path.Base(key)
	for _, ext := range []string{".gz", ".csv", ".npz"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
