// Package blobstore reads and writes batch files in the data lake zones.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied is returned when the caller lacks permission on the key.
	ErrAccessDenied = errors.New("access denied")

	// ErrWriteFailure is returned by Put when the object could not be stored.
	ErrWriteFailure = errors.New("write failed")
)

// Zones of the data lake.
const (
	RawZone        = "raw-zone"
	ProcessedZone  = "processed-zone"
	AggregatesZone = "aggregates-zone"
)

// Store provides an interface for blob storage operations.
// This interface enables swapping GCS for a local directory or memory in tests.
type Store interface {
	// Get returns the full contents of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error
}

// Key returns "<zone>/<name>.csv".
func Key(zone, name string) string {
	return path.Join(zone, name+".csv")
}

// ParseGCSURI splits "gs://bucket/prefix" into its bucket and prefix.
// The prefix may be empty.
func ParseGCSURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return parts[0], prefix, nil
}
