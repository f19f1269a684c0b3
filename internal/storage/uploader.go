// Package storage uploads finished images to durable object storage.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyObject is returned when asked to upload no bytes.
var ErrEmptyObject = errors.New("cannot upload an empty object")

// Uploader stores bytes under a key and returns the public URL of the object.
type Uploader interface {
	Upload(ctx context.Context, data []byte, key string, contentType string) (string, error)
}

// publicURL joins a base URL and an object key with a single slash.
func publicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}
