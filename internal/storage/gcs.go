package storage

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
)

// GCSUploader stores objects in a Google Cloud Storage bucket.
type GCSUploader struct {
	client  *gcs.Client
	bucket  string
	baseURL string
}

// NewGCSUploader creates an uploader using application default credentials.
// Objects are addressed publicly as baseURL/key.
func NewGCSUploader(ctx context.Context, bucket, baseURL string) (*GCSUploader, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, baseURL: baseURL}, nil
}

// Upload implements Uploader.
func (u *GCSUploader) Upload(ctx context.Context, data []byte, key string, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyObject
	}

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}

	return publicURL(u.baseURL, key), nil
}

// Close releases the underlying client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
