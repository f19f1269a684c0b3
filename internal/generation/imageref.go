package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxReferenceImageSize bounds a downloaded reference image.
const MaxReferenceImageSize = 20 << 20

// EncodeDataURI returns data as a base64 data URI. An empty mime type is
// sniffed from the content.
func EncodeDataURI(mime string, data []byte) string {
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI parses a base64 data URI into its mime type and bytes.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: not a data uri", ErrInvalidImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: data uri has no payload", ErrInvalidImage)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: data uri is not base64 encoded", ErrInvalidImage)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return mime, data, nil
}

// ResolveImages turns every reference into a base64 data URI. Data URIs are
// kept as they are; http(s) URLs are downloaded.
func ResolveImages(ctx context.Context, client *http.Client, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		switch {
		case strings.HasPrefix(ref, "data:"):
			out = append(out, ref)
		case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
			mime, data, err := Download(ctx, client, ref, MaxReferenceImageSize)
			if err != nil {
				return nil, err
			}
			out = append(out, EncodeDataURI(mime, data))
		default:
			return nil, fmt.Errorf("%w: unsupported reference %q", ErrInvalidImage, truncate(ref, 64))
		}
	}
	return out, nil
}

// Download fetches url and returns its content type and body, failing when
// the body exceeds limit bytes.
func Download(ctx context.Context, client *http.Client, url string, limit int64) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: download returned status %d", ErrInvalidImage, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > limit {
		return "", nil, fmt.Errorf("%w: image larger than %d bytes", ErrInvalidImage, limit)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime, data, nil
}
