package storage

import (
	"context"

	"github.com/google/uuid"
)

// BlobStore persists raw synthesis audio and returns a public URL for it
type BlobStore interface {
	Put(ctx context.Context, data []byte, name string, contentType string) (string, error)
}

// NewObjectName returns a unique object name with the given extension
func NewObjectName(ext string) string {
	return uuid.New().String() + ext
}
