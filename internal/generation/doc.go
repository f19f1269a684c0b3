// Package generation provides the boundary between the task pipeline and the
// external image-generation backends. A Backend turns a prompt and optional
// reference images into one or more result image URLs, reporting progress as
// it goes. Two HTTP wire protocols are implemented here (a streaming-progress
// NDJSON protocol and an OpenAI-style streamed chat completion); the native
// Gemini variant lives in internal/platform/gemini. The variant for a model is
// chosen once, from its backend URL, by KindForURL.
package generation
