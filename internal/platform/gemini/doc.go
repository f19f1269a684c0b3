// Package gemini provides the native Gemini image backend, an implementation
// of generation.Backend on top of Google's genai client.
//
// This package is an infrastructure adapter: it translates a generation
// request into genai content parts (prompt text plus inline reference
// images), asks for the IMAGE response modality, and uploads the inline
// images Gemini returns to durable storage so the pipeline only ever deals
// in URLs.
//
// Transient API errors are retried with exponential backoff and jitter.
// Safety blocks and text-only answers are permanent failures.
package gemini
