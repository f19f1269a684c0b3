package storage

import (
	"encoding/hex"
	"path"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Key builds a content-addressed object key: prefix/<blake2b-256 hex><ext>.
// Uploading the same bytes twice yields the same key, so retries overwrite
// rather than duplicate.
func Key(prefix string, data []byte, ext string) string {
	sum := blake2b.Sum256(data)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(prefix, hex.EncodeToString(sum[:])+ext)
}

// ExtensionFor returns the file extension for an image content type.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}
