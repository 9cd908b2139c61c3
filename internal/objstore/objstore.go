// Package objstore abstracts the blob storage holding position and aggregate
// Parquet objects. Keys follow the <table>/<YYYY-MM-DD>/... partition layout.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the minimal blob interface the pipeline needs.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, bucket, key string, data []byte) error

	// List returns every object whose key starts with prefix, ordered by key.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// Get returns the object's contents or ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Latest returns the object with the greatest LastModified. Ties go to the
// lexically greatest key so the choice is deterministic. ok is false for an
// empty slice.
func Latest(objects []ObjectInfo) (latest ObjectInfo, ok bool) {
	for i, o := range objects {
		if i == 0 ||
			o.LastModified.After(latest.LastModified) ||
			(o.LastModified.Equal(latest.LastModified) && o.Key > latest.Key) {
			latest = o
			ok = true
		}
	}
	return latest, ok
}

// ModifiedBy filters objects to those last modified at or before cutoff.
func ModifiedBy(objects []ObjectInfo, cutoff time.Time) []ObjectInfo {
	out := objects[:0:0]
	for _, o := range objects {
		if !o.LastModified.After(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

// URI formats a bucket and key as an s3:// location.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + strings.TrimPrefix(key, "/")
}

// ParseURI splits an s3:// location into bucket and key. The key may be
// empty or a prefix.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	return bucket, key, nil
}
