package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as files below a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore returns a store rooted at dir. The directory is created on
// first write.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

func (s *LocalStore) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return p, nil
}

// Get reads the file for key.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, fmt.Errorf("LocalStore.Get: %w", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("LocalStore.Get: %s: %w", key, mapFSError(err, nil))
	}
	return data, nil
}

// Put writes data to a temp file next to the target and renames it into
// place, so readers never observe a partial object.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return fmt.Errorf("LocalStore.Put: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("LocalStore.Put: create directory: %w", mapFSError(err, ErrWriteFailure))
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return fmt.Errorf("LocalStore.Put: create temp file: %w", mapFSError(err, ErrWriteFailure))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("LocalStore.Put: write %s: %w", key, mapFSError(err, ErrWriteFailure))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("LocalStore.Put: close %s: %w", key, mapFSError(err, ErrWriteFailure))
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("LocalStore.Put: rename %s: %w", key, mapFSError(err, ErrWriteFailure))
	}
	return nil
}

// mapFSError maps missing files and permission errors to the package
// sentinels; anything else is wrapped with fallback when one is given.
func mapFSError(err error, fallback error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case fallback != nil:
		return fmt.Errorf("%w: %v", fallback, err)
	}
	return err
}
