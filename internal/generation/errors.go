package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when the backend reports a terminal failure
	ErrGenerationFailed = errors.New("image generation failed")

	// ErrBackendStatus is returned when the backend answers with a non-2xx status
	ErrBackendStatus = errors.New("generation backend returned an error status")

	// ErrMalformedStream is returned when no line of the response stream could be parsed
	ErrMalformedStream = errors.New("malformed response stream from generation backend")

	// ErrNoImage is returned when the stream ended without any result image
	ErrNoImage = errors.New("generation backend returned no image")

	// ErrTimeout is returned when the backend call exceeded its deadline
	ErrTimeout = errors.New("image generation timed out")

	// ErrInvalidConfig is returned when a backend cannot be built for a model
	ErrInvalidConfig = errors.New("invalid generation backend configuration")

	// ErrInvalidImage is returned when a reference image cannot be resolved
	ErrInvalidImage = errors.New("invalid reference image")
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// StatusError describes a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", ErrBackendStatus, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrBackendStatus, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is match ErrBackendStatus.
func (e *StatusError) Unwrap() error {
	return ErrBackendStatus
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
