package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes audio blobs to a directory served by the gateway's
// /audio/ handler.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates a local blob store rooted at dir. baseURL is the
// public base URL of the gateway; when empty, returned URLs are root-relative.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio storage dir: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Dir returns the directory blobs are written to
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes the blob and returns its public URL
func (s *LocalStore) Put(ctx context.Context, data []byte, name string, contentType string) (string, error) {
	// Object names are generated, never user input, but keep the write
	// inside the storage dir regardless.
	name = filepath.Base(name)

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio blob: %w", err)
	}

	return s.baseURL + "/audio/" + name, nil
}
