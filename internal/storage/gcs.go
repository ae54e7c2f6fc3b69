package storage

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsObjectPrefix = "tts_audio/"

// GCSStore uploads audio blobs to a Google Cloud Storage bucket
type GCSStore struct {
	client    *gcs.Client
	bucket    string
	cdnDomain string
}

// NewGCSStore creates a GCS-backed blob store. credentialsFile is optional;
// when empty, application default credentials are used.
func NewGCSStore(ctx context.Context, bucket, cdnDomain, credentialsFile string) (*GCSStore, error) {
	opts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSStore{
		client:    client,
		bucket:    bucket,
		cdnDomain: cdnDomain,
	}, nil
}

// Put uploads the blob and returns its public URL
func (s *GCSStore) Put(ctx context.Context, data []byte, name string, contentType string) (string, error) {
	key := gcsObjectPrefix + name

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload audio blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize audio blob upload: %w", err)
	}

	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key), nil
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key), nil
}

// Close releases the storage client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
