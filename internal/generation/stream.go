package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxLineSize bounds a single stream line. Inline base64 images can be large.
const maxLineSize = 16 << 20

const doneMarker = "[DONE]"

// lineFunc handles one decoded JSON line. Returning stop=true ends the stream.
type lineFunc func(raw []byte) (stop bool, err error)

// readStream reads an NDJSON or SSE body line by line. A "data:" prefix is
// stripped, blank lines and SSE comments are ignored and a literal [DONE]
// ends the stream. Lines that are not valid JSON are skipped. It returns the
// number of lines that parsed.
func readStream(ctx context.Context, body io.Reader, handle lineFunc) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	parsed := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return parsed, err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if after, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			line = bytes.TrimSpace(after)
		}
		if string(line) == doneMarker {
			return parsed, nil
		}
		if !json.Valid(line) {
			continue
		}

		parsed++
		stop, err := handle(line)
		if err != nil {
			return parsed, err
		}
		if stop {
			return parsed, nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return parsed, ctxErr
		}
		return parsed, fmt.Errorf("failed to read response stream: %w", err)
	}
	return parsed, nil
}

// postJSON sends payload to url and returns the response when the status is 2xx.
// The caller closes the body.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(snippet)), maxErrorBody),
		}
	}
	return resp, nil
}
