package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/imagery-api/internal/storage"
)

// Uploader is an in-memory storage.Uploader.
type Uploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// BaseURL prefixes returned URLs.
	BaseURL string
	// Err is returned by Upload when set.
	Err error
}

var _ storage.Uploader = (*Uploader)(nil)

// NewUploader creates an uploader returning https://storage.test/<key> URLs.
func NewUploader() *Uploader {
	return &Uploader{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		BaseURL: "https://storage.test",
	}
}

// Upload implements storage.Uploader.
func (u *Uploader) Upload(_ context.Context, data []byte, key string, contentType string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.Err != nil {
		return "", u.Err
	}
	if len(data) == 0 {
		return "", storage.ErrEmptyObject
	}
	u.objects[key] = append([]byte(nil), data...)
	u.types[key] = contentType
	return u.BaseURL + "/" + key, nil
}

// Object returns the stored bytes and content type for key.
func (u *Uploader) Object(key string) ([]byte, string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.objects[key]
	return data, u.types[key], ok
}

// Count returns the number of stored objects.
func (u *Uploader) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.objects)
}
